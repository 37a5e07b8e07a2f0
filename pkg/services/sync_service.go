package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/medsearch/pkg/config"
	"github.com/ekaya-inc/medsearch/pkg/dailymed"
	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/keylock"
	"github.com/ekaya-inc/medsearch/pkg/metrics"
	"github.com/ekaya-inc/medsearch/pkg/repositories"
	"github.com/ekaya-inc/medsearch/pkg/workerpool"
)

// Repositories bundles the data access the sync jobs need.
type Repositories struct {
	SPLs   repositories.SPLRepository
	Forms  repositories.MedFormRepository
	Meds   repositories.MedRepository
	Orgs   repositories.OrganizationRepository
	Issues repositories.IssueRepository
}

// NewRepositories returns the PostgreSQL repositories.
func NewRepositories() Repositories {
	return Repositories{
		SPLs:   repositories.NewSPLRepository(),
		Forms:  repositories.NewMedFormRepository(),
		Meds:   repositories.NewMedRepository(),
		Orgs:   repositories.NewOrganizationRepository(),
		Issues: repositories.NewIssueRepository(),
	}
}

// SyncService runs the two sync jobs.
type SyncService interface {
	// RefreshSPLList mirrors the SPL list feed into spls starting at
	// startPage. With newRecordsOnly, only SPLs published after the newest
	// known published date, less the overlap window, are requested.
	// Returns the number of rows saved.
	RefreshSPLList(ctx context.Context, newRecordsOnly bool, startPage int) (int, error)

	// UpdateSPLDetails syncs the detail of every SPL whose detail is missing
	// or stale. Returns the number of SPLs processed.
	UpdateSPLDetails(ctx context.Context, pageSize int) (int, error)
}

type syncService struct {
	db       database.Transactor
	fetcher  dailymed.Fetcher
	parse    ListParser
	repos    Repositories
	issues   IssueRecorder
	locks    *keylock.Locker
	pool     *workerpool.Pool
	cfg      config.SyncConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	newRunID func() uuid.UUID
}

var _ SyncService = (*syncService)(nil)

// NewSyncService creates a SyncService. listFormat selects the list payload
// parser ("xml" or "json"); m may be nil.
func NewSyncService(
	db database.Transactor,
	fetcher dailymed.Fetcher,
	repos Repositories,
	cfg config.SyncConfig,
	listFormat string,
	logger *zap.Logger,
	m *metrics.Metrics,
) SyncService {
	logger = logger.Named("sync")
	return &syncService{
		db:       db,
		fetcher:  fetcher,
		parse:    ParserForFormat(listFormat),
		repos:    repos,
		issues:   NewIssueRecorder(db, repos.Issues, logger, m),
		locks:    keylock.New(),
		pool:     workerpool.New(workerpool.Config{MaxConcurrent: cfg.DetailWorkers}, logger),
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		newRunID: uuid.New,
	}
}

func (s *syncService) RefreshSPLList(ctx context.Context, newRecordsOnly bool, startPage int) (int, error) {
	logger := s.logger.With(zap.String("run_id", s.newRunID().String()), zap.String("job", "refresh-spl-list"))

	publishedAfter, err := s.watermark(ctx, newRecordsOnly)
	if err != nil {
		return 0, err
	}
	if publishedAfter != nil {
		logger.Info("Fetching records after watermark", zap.String("published_after", publishedAfter.Format(time.DateOnly)))
	} else {
		logger.Info("Fetching all records")
	}

	builder := NewMasterListBuilder(s.fetcher, s.parse, s.db, s.repos.SPLs, MasterListBuilderConfig{
		StartPage:              startPage,
		PublishedAfter:         publishedAfter,
		MaxConsecutiveFailures: s.cfg.MaxConsecutivePageFailures,
	}, logger, s.metrics)

	saved := 0
	for builder.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return saved, err
		}

		page, err := builder.FetchNextPage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return saved, ctx.Err()
			}
			builder.SkipPage()
			continue
		}

		n, err := builder.SavePageData(ctx, page)
		if err != nil {
			return saved, err
		}
		saved += n
	}

	logger.Info("Finished fetching and saving SPLs", zap.Int("saved", saved))
	return saved, nil
}

// watermark returns the published-after bound for an incremental refresh,
// or nil for a full one.
func (s *syncService) watermark(ctx context.Context, newRecordsOnly bool) (*time.Time, error) {
	if !newRecordsOnly {
		return nil, nil
	}
	latest, err := s.repos.SPLs.LatestPublishedDate(ctx, s.db.Conn())
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	after := latest.AddDate(0, 0, -s.cfg.PublishedOverlapDays)
	return &after, nil
}

func (s *syncService) UpdateSPLDetails(ctx context.Context, pageSize int) (int, error) {
	logger := s.logger.With(zap.String("run_id", s.newRunID().String()), zap.String("job", "update-spl-details"))

	if pageSize < 1 {
		pageSize = s.cfg.DetailPageSize
	}

	syncer := NewDetailSynchronizer(s.fetcher, s.db, s.repos, s.issues, s.locks, logger, s.metrics)
	scheduler := NewDetailScheduler(s.db, s.repos.SPLs, syncer, s.pool, logger)

	stats, err := scheduler.Run(ctx, pageSize)
	return stats.Processed, err
}
