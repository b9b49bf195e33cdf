package moderation

import (
	"context"
	"fmt"
	"time"

	"engagement-core/pkg/accesscontrol"
	"engagement-core/pkg/config"
	"engagement-core/pkg/db/option"
	"engagement-core/pkg/errutil"
	"engagement-core/pkg/repository"
	"engagement-core/services/account"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db             *gorm.DB
	node           *snowflake.Node
	authz          accesscontrol.Authorizer
	lockThreshold  int64
	defaultTTLDays int
	now            func() time.Time

	users    repository.Repository[account.User]
	warnings repository.Repository[Warning]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Authz  accesscontrol.Authorizer
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	threshold := p.Config.Moderation.LockThreshold
	if threshold <= 0 {
		threshold = 3
	}
	ttl := p.Config.Moderation.DefaultTTLDays
	if ttl <= 0 {
		ttl = 30
	}

	return &Service{
		db:             p.DB,
		node:           p.Node,
		authz:          p.Authz,
		lockThreshold:  threshold,
		defaultTTLDays: ttl,
		now:            func() time.Time { return time.Now().UTC() },

		users:    repository.ProvideStore[account.User](p.DB),
		warnings: repository.ProvideStore[Warning](p.DB),
	}
}

func (s *Service) authorize(actor Actor, action string) error {
	if actor.Role == "" {
		return errutil.Unauthorized("actor role is required", nil)
	}

	ok, err := s.authz.Enforce(actor.Role, accesscontrol.ResourceModeration, action)
	if err != nil {
		return errutil.Internal("failed to evaluate policy", err)
	}
	if !ok {
		zap.L().Warn("moderation action denied",
			zap.String("actor_id", actor.ID),
			zap.String("role", actor.Role),
			zap.String("action", action))
		return errutil.Forbidden(fmt.Sprintf("role %q may not %s", actor.Role, action), nil)
	}
	return nil
}

// IssueWarning records a warning and, in the same transaction, locks the
// account once enough warnings are active.
func (s *Service) IssueWarning(ctx context.Context, actor Actor, req IssueWarningRequest) (*IssueResult, error) {
	if err := s.authorize(actor, accesscontrol.ActionWarn); err != nil {
		return nil, err
	}

	code := slug.Make(req.ReasonCode)
	var details []errutil.Detail
	if req.UserID == "" {
		details = append(details, errutil.Detail{Field: "user_id", Message: "is required"})
	}
	if code == "" {
		details = append(details, errutil.Detail{Field: "reason_code", Message: "is required"})
	}
	if req.TTLDays < 0 {
		details = append(details, errutil.Detail{Field: "ttl_days", Message: "must not be negative"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid warning", nil, errutil.WithDetails(details...))
	}

	ttl := req.TTLDays
	if ttl == 0 {
		ttl = s.defaultTTLDays
	}

	now := s.now()
	res := &IssueResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.lockUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		w := &Warning{
			ID:         s.node.Generate().String(),
			UserID:     req.UserID,
			ReasonCode: code,
			Note:       req.Note,
			IssuedBy:   actor.ID,
			ExpiresAt:  now.AddDate(0, 0, ttl),
			CreatedAt:  now,
		}
		if err := s.warnings.WithTrx(tx).Create(ctx, w); err != nil {
			return err
		}
		res.Warning = w

		res.Status, err = s.applyLock(ctx, tx, user, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("warning issued",
		zap.String("user_id", req.UserID),
		zap.String("reason_code", code),
		zap.String("issued_by", actor.ID),
		zap.Int64("active_warnings", res.Status.ActiveWarnings),
		zap.Bool("locked", res.Status.Locked))
	return res, nil
}

func (s *Service) ActiveWarningCount(ctx context.Context, userID string, now time.Time) (int64, error) {
	return s.countActive(ctx, s.db.WithContext(ctx), userID, now)
}

// ApplyPermanentLockIfNeeded re-runs the lock check on its own. IssueWarning
// already does this.
func (s *Service) ApplyPermanentLockIfNeeded(ctx context.Context, userID string) (*LockStatus, error) {
	var status *LockStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		status, err = s.applyLock(ctx, tx, user, s.now())
		return err
	})
	return status, err
}

// ManualUnlock lifts every suspension. Warnings active at this moment are
// revoked, so only warnings issued afterwards count toward the next lock.
func (s *Service) ManualUnlock(ctx context.Context, actor Actor, userID string) error {
	if err := s.authorize(actor, accesscontrol.ActionUnlock); err != nil {
		return err
	}

	now := s.now()
	var revoked int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockUser(ctx, tx, userID); err != nil {
			return err
		}

		res := tx.Model(&Warning{}).
			Where("user_id = ? AND is_revoked = ? AND expires_at > ?", userID, false, now).
			Updates(map[string]any{"is_revoked": true, "revoked_at": now, "revoked_by": actor.ID})
		if res.Error != nil {
			return res.Error
		}
		revoked = res.RowsAffected

		return s.users.WithTrx(tx).Update(ctx, userID, map[string]any{
			"is_suspended":            false,
			"is_permanent_suspension": false,
			"suspended_at":            nil,
			"suspended_until":         nil,
			"updated_at":              now,
		})
	})
	if err != nil {
		return err
	}

	zap.L().Info("account unlocked",
		zap.String("user_id", userID),
		zap.String("unlocked_by", actor.ID),
		zap.Int64("warnings_revoked", revoked))
	return nil
}

// RevokeWarning clears one warning early. It never lifts a lock already in
// place.
func (s *Service) RevokeWarning(ctx context.Context, actor Actor, warningID string) (*Warning, error) {
	if err := s.authorize(actor, accesscontrol.ActionRevoke); err != nil {
		return nil, err
	}

	var w *Warning
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.warnings.WithTrx(tx).FindOne(ctx, &Warning{ID: warningID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if w == nil {
			return errutil.NotFound("warning not found", nil)
		}
		if w.IsRevoked {
			return errutil.Conflict("warning already revoked", nil)
		}

		now := s.now()
		w.IsRevoked, w.RevokedAt, w.RevokedBy = true, &now, actor.ID
		return s.warnings.WithTrx(tx).Update(ctx, w.ID, map[string]any{
			"is_revoked": true,
			"revoked_at": now,
			"revoked_by": actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListWarnings returns a user's warnings newest first.
func (s *Service) ListWarnings(ctx context.Context, userID string, activeOnly bool) ([]*Warning, error) {
	if userID == "" {
		return nil, errutil.ValidationFailed("user_id is required", nil)
	}
	opts := []option.QueryOption{option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"})}
	if activeOnly {
		opts = append(opts, option.ApplyOperator(
			option.Condition{Field: "is_revoked", Operator: option.EQ, Value: false},
			option.Condition{Field: "expires_at", Operator: option.GT, Value: s.now()},
		))
	}
	return s.warnings.Find(ctx, &Warning{UserID: userID}, opts...)
}

// SuspendTemporarily bars the account until now+d. The suspension lapses on
// its own once the deadline passes; nothing clears the stored flag.
func (s *Service) SuspendTemporarily(ctx context.Context, actor Actor, userID string, d time.Duration) (*Status, error) {
	if err := s.authorize(actor, accesscontrol.ActionSuspend); err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, errutil.ValidationFailed("suspension duration must be positive", nil)
	}

	now := s.now()
	until := now.Add(d)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user.IsPermanentSuspension {
			return errutil.Conflict("account is permanently suspended", nil)
		}

		return s.users.WithTrx(tx).Update(ctx, userID, map[string]any{
			"is_suspended":    true,
			"suspended_at":    now,
			"suspended_until": until,
			"updated_at":      now,
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("account suspended",
		zap.String("user_id", userID),
		zap.String("suspended_by", actor.ID),
		zap.Time("until", until))
	return s.Status(ctx, userID)
}

// Status reports the effective suspension state at the current time.
func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	user, err := s.users.FindOne(ctx, &account.User{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errutil.NotFound("user not found", nil)
	}

	now := s.now()
	active, err := s.ActiveWarningCount(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	return &Status{
		UserID:                user.ID,
		Suspended:             user.IsSuspendedAt(now),
		IsPermanentSuspension: user.IsPermanentSuspension,
		SuspendedAt:           user.SuspendedAt,
		SuspendedUntil:        user.SuspendedUntil,
		ActiveWarnings:        active,
	}, nil
}

func (s *Service) lockUser(ctx context.Context, tx *gorm.DB, userID string) (*account.User, error) {
	user, err := s.users.WithTrx(tx).FindOne(ctx, &account.User{ID: userID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return user, nil
}

func (s *Service) countActive(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (int64, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&Warning{}).
		Where("user_id = ? AND is_revoked = ? AND expires_at > ?", userID, false, now).
		Count(&n).Error
	return n, err
}

func (s *Service) applyLock(ctx context.Context, tx *gorm.DB, user *account.User, now time.Time) (*LockStatus, error) {
	active, err := s.countActive(ctx, tx, user.ID, now)
	if err != nil {
		return nil, err
	}

	status := &LockStatus{
		ActiveWarnings:        active,
		IsSuspended:           user.IsSuspended,
		IsPermanentSuspension: user.IsPermanentSuspension,
	}
	if active < s.lockThreshold || user.IsPermanentSuspension {
		return status, nil
	}

	err = s.users.WithTrx(tx).Update(ctx, user.ID, map[string]any{
		"is_suspended":            true,
		"is_permanent_suspension": true,
		"suspended_at":            now,
		"suspended_until":         nil,
		"updated_at":              now,
	})
	if err != nil {
		return nil, err
	}

	status.IsSuspended, status.IsPermanentSuspension, status.Locked = true, true, true
	zap.L().Warn("account permanently suspended",
		zap.String("user_id", user.ID),
		zap.Int64("active_warnings", active))
	return status, nil
}
