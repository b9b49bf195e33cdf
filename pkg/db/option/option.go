package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption is applied to a query before it is executed.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// LockingUpdate is a gorm scope adding SELECT ... FOR UPDATE.
// The sqlite dialect drops the clause.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		field := s.SortBy
		if field == "" {
			field = "created_at"
		}
		if s.Allow != nil && !s.Allow[field] {
			return db
		}

		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: field}, Desc: desc})
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

// ApplyOperator adds a WHERE clause for each condition. Field names are
// quoted by the dialect.
func ApplyOperator(conditions ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conditions {
			op := c.Operator
			if op == "" {
				op = EQ
			}
			if op == IN {
				db = db.Where(fmt.Sprintf("%s IN ?", db.Statement.Quote(c.Field)), c.Value)
				continue
			}
			db = db.Where(fmt.Sprintf("%s %s ?", db.Statement.Quote(c.Field), op), c.Value)
		}
		return db
	}
}
