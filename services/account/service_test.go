package account

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"engagement-core/pkg/errutil"
	"engagement-core/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &User{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Create(ctx, " alice ")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)

	got, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.PointsBalance)

	_, err = svc.Create(ctx, "alice")
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	_, err = svc.Get(ctx, "missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, err = svc.Create(ctx, "  ")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestIsSuspendedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(24 * time.Hour)

	require.False(t, (&User{}).IsSuspendedAt(now))
	require.True(t, (&User{IsSuspended: true}).IsSuspendedAt(now))
	require.True(t, (&User{IsSuspended: true, IsPermanentSuspension: true, SuspendedUntil: &now}).IsSuspendedAt(later))

	temp := &User{IsSuspended: true, SuspendedUntil: &later}
	require.True(t, temp.IsSuspendedAt(now))
	require.False(t, temp.IsSuspendedAt(later))
	require.False(t, temp.IsSuspendedAt(later.Add(time.Second)))

	var nilUser *User
	require.False(t, nilUser.IsSuspendedAt(now))
}
