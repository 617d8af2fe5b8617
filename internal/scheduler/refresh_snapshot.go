package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/frontier/internal/modules/snapshot"
	"github.com/rs/zerolog"
)

// SnapshotRefresher rebuilds the market snapshot
type SnapshotRefresher interface {
	Refresh(ctx context.Context) (*snapshot.Snapshot, error)
}

// RefreshSnapshotJob rebuilds forecasts and covariance from the stored prices
type RefreshSnapshotJob struct {
	refresher SnapshotRefresher
	timeout   time.Duration
	log       zerolog.Logger
}

// NewRefreshSnapshotJob creates a new RefreshSnapshotJob. A zero timeout
// lets the rebuild run unbounded.
func NewRefreshSnapshotJob(refresher SnapshotRefresher, timeout time.Duration, log zerolog.Logger) *RefreshSnapshotJob {
	return &RefreshSnapshotJob{
		refresher: refresher,
		timeout:   timeout,
		log:       log.With().Str("job", "refresh_snapshot").Logger(),
	}
}

// Name returns the job name
func (j *RefreshSnapshotJob) Name() string {
	return "refresh_snapshot"
}

// Run executes the refresh
func (j *RefreshSnapshotJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	snap, err := j.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("snapshot refresh failed: %w", err)
	}

	j.log.Info().
		Str("version", snap.Version).
		Int("assets", len(snap.Assets)).
		Msg("Scheduled snapshot refresh completed")
	return nil
}
