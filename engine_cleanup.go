package tokengate

import (
	"context"
	"fmt"
	"time"

	"github.com/tokengate/tokengate/internal/audit"
)

// Cleanup sweeps the token store and removes records whose tokens have
// expired, blacklist entries included. The sweep is idempotent and safe to
// run concurrently with live traffic; it is meant to be triggered by an
// external scheduler, not a background goroutine.
func (e *Engine) Cleanup(ctx context.Context) (*CleanupReport, error) {
	started := time.Now()

	purged, err := e.tokens.PurgeExpired(ctx, started)
	report := &CleanupReport{
		PurgedTokens: purged,
		Started:      started,
		Duration:     time.Since(started),
	}

	event := audit.Event{
		Type:     audit.TypeCleanup,
		Metadata: map[string]string{"purged": fmt.Sprint(purged)},
	}
	if err != nil {
		event.Error = err.Error()
		e.emit(event)
		return report, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	event.Success = true
	e.emit(event)
	return report, nil
}
