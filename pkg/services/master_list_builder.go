package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/medsearch/pkg/apperrors"
	"github.com/ekaya-inc/medsearch/pkg/dailymed"
	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/metrics"
	"github.com/ekaya-inc/medsearch/pkg/models"
	"github.com/ekaya-inc/medsearch/pkg/repositories"
)

// ListParser turns a raw list payload into a page.
type ListParser func(raw []byte) (*dailymed.SPLListPage, error)

// ParserForFormat returns the list parser matching a feed format.
func ParserForFormat(format string) ListParser {
	if format == "json" {
		return dailymed.ParseSPLListJSON
	}
	return dailymed.ParseSPLList
}

// MasterListBuilderConfig sets where pagination starts and when it gives up.
type MasterListBuilderConfig struct {
	StartPage      int
	PublishedAfter *time.Time
	// MaxConsecutiveFailures stops pagination after this many skipped
	// pages in a row. Zero means 3.
	MaxConsecutiveFailures int
}

// MasterListBuilder walks the SPL list feed page by page and upserts every
// entry into spls.
//
// The cursor only advances on a fetched page that reports more pages, or
// through SkipPage. A failed page leaves the cursor where it was; the
// caller decides whether to SkipPage or stop.
type MasterListBuilder struct {
	fetcher dailymed.Fetcher
	parse   ListParser
	db      database.Transactor
	spls    repositories.SPLRepository
	logger  *zap.Logger
	metrics *metrics.Metrics

	maxConsecutiveFailures int

	pageNumber          int
	publishedAfter      *time.Time
	hasMorePages        bool
	totalPages          int
	consecutiveFailures int
}

// NewMasterListBuilder creates a builder positioned at cfg.StartPage.
func NewMasterListBuilder(
	fetcher dailymed.Fetcher,
	parse ListParser,
	db database.Transactor,
	spls repositories.SPLRepository,
	cfg MasterListBuilderConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *MasterListBuilder {
	if cfg.StartPage < 1 {
		cfg.StartPage = 1
	}
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 3
	}
	if parse == nil {
		parse = dailymed.ParseSPLList
	}

	b := &MasterListBuilder{
		fetcher:                fetcher,
		parse:                  parse,
		db:                     db,
		spls:                   spls,
		logger:                 logger.Named("master-list-builder"),
		metrics:                m,
		maxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		pageNumber:             cfg.StartPage,
		publishedAfter:         cfg.PublishedAfter,
		hasMorePages:           true,
	}

	fields := []zap.Field{zap.Int("start_page", b.pageNumber)}
	if b.publishedAfter != nil {
		fields = append(fields, zap.Time("published_after", *b.publishedAfter))
	}
	b.logger.Info("Master list builder initialized", fields...)
	return b
}

// PageNumber returns the page the next FetchNextPage requests.
func (b *MasterListBuilder) PageNumber() int {
	return b.pageNumber
}

// HasMorePages reports whether pagination should continue.
func (b *MasterListBuilder) HasMorePages() bool {
	return b.hasMorePages
}

// FetchNextPage fetches and parses the current page. On success the cursor
// moves to the next page, or pagination ends when the feed reports none.
func (b *MasterListBuilder) FetchNextPage(ctx context.Context) (*dailymed.SPLListPage, error) {
	b.logger.Info("Fetching page", zap.Int("page", b.pageNumber))

	raw, err := b.fetcher.FetchSPLs(ctx, b.pageNumber, b.publishedAfter)
	if err != nil {
		b.logger.Error("No response for page",
			zap.Int("page", b.pageNumber),
			zap.Error(err))
		b.metrics.ListPage(metrics.OutcomeFetchError)
		return nil, fmt.Errorf("failed to fetch page %d: %w", b.pageNumber, err)
	}

	page, err := b.parse(raw)
	if err != nil {
		b.logger.Error("Failed to parse page",
			zap.Int("page", b.pageNumber),
			zap.Error(err))
		b.metrics.ListPage(metrics.OutcomeParseError)
		return nil, fmt.Errorf("failed to parse page %d: %w", b.pageNumber, err)
	}

	for _, f := range page.Failures {
		b.logger.Warn("Skipping SPL list entry",
			zap.Int("page", b.pageNumber),
			zap.String("error", f.Error()))
	}

	b.metrics.ListPage(metrics.OutcomeOK)
	b.consecutiveFailures = 0
	b.totalPages = page.Metadata.TotalPages
	b.hasMorePages = page.HasMorePages()
	if b.hasMorePages {
		b.pageNumber++
	} else {
		b.logger.Info("No more pages after this one", zap.Int("page", b.pageNumber))
	}
	return page, nil
}

// SkipPage gives up on the current page and moves past it. Pagination ends
// once MaxConsecutiveFailures pages in a row have been skipped, or when the
// skipped page was the last page known from an earlier response.
func (b *MasterListBuilder) SkipPage() {
	b.consecutiveFailures++

	switch {
	case b.consecutiveFailures >= b.maxConsecutiveFailures:
		b.logger.Error("Too many consecutive page failures, stopping",
			zap.Int("page", b.pageNumber),
			zap.Int("failures", b.consecutiveFailures))
		b.hasMorePages = false
	case b.totalPages > 0 && b.pageNumber >= b.totalPages:
		b.logger.Warn("Skipped the last page", zap.Int("page", b.pageNumber))
		b.hasMorePages = false
	default:
		b.logger.Warn("Skipping page", zap.Int("page", b.pageNumber))
		b.pageNumber++
	}
}

// SavePageData upserts every item of page keyed by set_id in one
// transaction. An item that fails to save is logged and skipped without
// affecting the rest of the page. Returns the number of rows saved.
func (b *MasterListBuilder) SavePageData(ctx context.Context, page *dailymed.SPLListPage) (int, error) {
	if page == nil || len(page.Items) == 0 {
		return 0, nil
	}

	saved := 0
	err := b.db.WithTx(ctx, func(q database.Querier) error {
		saved = 0
		for _, item := range page.Items {
			spl := &models.SPL{
				SetID:         item.SetID,
				Title:         item.Title,
				Version:       item.Version,
				PublishedDate: item.PublishedDate,
			}
			if _, err := b.spls.Upsert(ctx, q, spl); err != nil {
				if _, ok := apperrors.AsPersistenceError(err); !ok {
					return err
				}
				b.logger.Error("Error saving SPL record",
					zap.String("set_id", item.SetID),
					zap.Error(err))
				continue
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save page: %w", err)
	}

	b.metrics.SPLsSaved(saved)
	b.logger.Debug("Saved page", zap.Int("saved", saved), zap.Int("items", len(page.Items)))
	return saved, nil
}
