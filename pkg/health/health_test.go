package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestCheck(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	h := ProvideHealth(HealthParams{DB: db})
	res := h.Check(context.Background())
	require.Equal(t, StatusHealthy, res.Status)
	require.Len(t, res.Deps, 1)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	res = h.Check(context.Background())
	require.Equal(t, StatusUnhealthy, res.Status)
}
