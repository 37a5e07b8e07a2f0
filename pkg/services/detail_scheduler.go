package services

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/repositories"
	"github.com/ekaya-inc/medsearch/pkg/workerpool"
)

// DefaultDetailPageSize is the selection page size when none is given.
const DefaultDetailPageSize = 100

// DetailSyncStats tallies one detail sync run.
type DetailSyncStats struct {
	Processed int
	Synced    int
	Failed    int
}

// DetailScheduler selects SPLs whose detail is missing or stale and hands
// them to a DetailSyncer, one keyset page at a time.
type DetailScheduler struct {
	db     database.Transactor
	spls   repositories.SPLRepository
	syncer DetailSyncer
	pool   *workerpool.Pool
	logger *zap.Logger
}

// NewDetailScheduler creates a DetailScheduler. A nil pool processes one
// SPL at a time.
func NewDetailScheduler(
	db database.Transactor,
	spls repositories.SPLRepository,
	syncer DetailSyncer,
	pool *workerpool.Pool,
	logger *zap.Logger,
) *DetailScheduler {
	if pool == nil {
		pool = workerpool.New(workerpool.DefaultConfig(), logger)
	}
	return &DetailScheduler{
		db:     db,
		spls:   spls,
		syncer: syncer,
		pool:   pool,
		logger: logger.Named("detail-scheduler"),
	}
}

// Run syncs every selected SPL. Pages are keyed on spls.id, so SPLs that
// keep failing are visited once per run and SPLs fixed mid-run do not shift
// later pages.
func (s *DetailScheduler) Run(ctx context.Context, pageSize int) (DetailSyncStats, error) {
	if pageSize < 1 {
		pageSize = DefaultDetailPageSize
	}

	var stats DetailSyncStats
	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		refs, err := s.spls.ListNeedingDetailSync(ctx, s.db.Conn(), lastID, pageSize)
		if err != nil {
			return stats, err
		}
		if len(refs) == 0 {
			break
		}

		s.logger.Debug("Processing detail page",
			zap.Int64("after_id", lastID),
			zap.Int("count", len(refs)))

		jobs := make([]workerpool.Job[bool], len(refs))
		for i, ref := range refs {
			jobs[i] = workerpool.Job[bool]{
				ID: strconv.FormatInt(ref.ID, 10),
				Execute: func(ctx context.Context) (bool, error) {
					return s.syncer.Sync(ctx, ref)
				},
			}
		}

		var firstErr error
		for _, r := range workerpool.Process(ctx, s.pool, jobs) {
			if r.Err != nil {
				if firstErr == nil {
					firstErr = r.Err
				}
				continue
			}
			stats.Processed++
			if r.Result {
				stats.Synced++
			} else {
				stats.Failed++
			}
		}
		if firstErr != nil {
			return stats, firstErr
		}

		lastID = refs[len(refs)-1].ID
		if len(refs) < pageSize {
			break
		}
	}

	s.logger.Info("Successfully processed SPL records",
		zap.Int("processed", stats.Processed),
		zap.Int("synced", stats.Synced),
		zap.Int("failed", stats.Failed))
	return stats, nil
}
