package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"engagement-core/services/testutil"
)

type widget struct {
	ID    string `gorm:"column:id;primaryKey"`
	Owner string `gorm:"column:owner"`
}

func TestFindOneIgnoresEmptyFilter(t *testing.T) {
	db := testutil.NewTestDB(t, &widget{})
	require.NoError(t, db.Create([]*widget{{ID: "w1", Owner: "a"}, {ID: "w2", Owner: "b"}}).Error)
	ctx := context.Background()
	s := ProvideStore[widget](db)

	got, err := s.FindOne(ctx, &widget{})
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.FindOne(ctx, &widget{ID: ""})
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.FindOne(ctx, &widget{Owner: "b"})
	require.NoError(t, err)
	require.Equal(t, "w2", got.ID)

	all, err := s.Find(ctx, &widget{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
