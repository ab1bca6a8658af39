package tokengate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCleanupPurgesExpiredTokens(t *testing.T) {
	h := newTestEngine(t, func(cfg *Config) {
		cfg.JWT.AccessTTL = time.Second
		cfg.JWT.RefreshTTL = 2 * time.Second
	})
	ctx := context.Background()

	h.registerVerified(t, "alice@example.test", "correct horse battery")
	for i := 0; i < 3; i++ {
		_, err := h.engine.Login(ctx, LoginInput{
			Email:    "alice@example.test",
			Password: "correct horse battery",
			IP:       "10.0.0.1",
		})
		require.NoError(t, err)
	}

	// Nothing has expired yet.
	report, err := h.engine.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.PurgedTokens)

	time.Sleep(3 * time.Second)

	report, err = h.engine.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, report.PurgedTokens)

	// The sweep is idempotent.
	report, err = h.engine.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.PurgedTokens)
}

func TestCleanupRemovesBlacklistEntriesWithExpiry(t *testing.T) {
	h := newTestEngine(t, func(cfg *Config) {
		cfg.JWT.AccessTTL = time.Second
		cfg.JWT.RefreshTTL = 2 * time.Second
	})
	ctx := context.Background()

	h.registerVerified(t, "alice@example.test", "correct horse battery")
	pair, err := h.engine.Login(ctx, LoginInput{
		Email:    "alice@example.test",
		Password: "correct horse battery",
		IP:       "10.0.0.1",
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.Logout(ctx, pair.RefreshToken))

	time.Sleep(3 * time.Second)

	report, err := h.engine.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.PurgedTokens)
}

func TestCleanupEmptyStore(t *testing.T) {
	h := newTestEngine(t)

	report, err := h.engine.Cleanup(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.PurgedTokens)
	require.GreaterOrEqual(t, report.Duration, time.Duration(0))
}
