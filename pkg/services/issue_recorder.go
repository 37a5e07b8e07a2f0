package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/logging"
	"github.com/ekaya-inc/medsearch/pkg/metrics"
	"github.com/ekaya-inc/medsearch/pkg/models"
	"github.com/ekaya-inc/medsearch/pkg/repositories"
)

// IssueRecorder writes diagnostic issue rows. Both writes are best effort:
// a failed write is logged and never returned.
type IssueRecorder interface {
	RecordParsingIssue(ctx context.Context, splID int64, err error, raw []byte, structure string)
	RecordDataIssue(ctx context.Context, splID int64, op models.OperationType, table *string, message string)
}

type issueRecorder struct {
	db      database.Transactor
	repo    repositories.IssueRepository
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewIssueRecorder creates an IssueRecorder that writes on db's autocommit
// connection, outside any unit transaction.
func NewIssueRecorder(db database.Transactor, repo repositories.IssueRepository, logger *zap.Logger, m *metrics.Metrics) IssueRecorder {
	return &issueRecorder{
		db:      db,
		repo:    repo,
		logger:  logger.Named("issue-recorder"),
		metrics: m,
	}
}

var _ IssueRecorder = (*issueRecorder)(nil)

func (r *issueRecorder) RecordParsingIssue(ctx context.Context, splID int64, err error, raw []byte, structure string) {
	msg := logging.SanitizeError(err)
	r.logger.Error("Failed to parse SPL detail, recording parsing issue",
		zap.Int64("spl_id", splID),
		zap.String("error", msg))

	issue := &models.SPLParsingIssue{
		SPLID:        &splID,
		Error:        msg,
		XMLContent:   string(raw),
		XMLStructure: structure,
	}
	if werr := r.repo.CreateParsingIssue(context.WithoutCancel(ctx), r.db.Conn(), issue); werr != nil {
		r.logger.Error("Failed to record parsing issue",
			zap.Int64("spl_id", splID),
			zap.Error(werr))
		return
	}
	r.metrics.IssueRecorded(metrics.IssueParsing)
}

func (r *issueRecorder) RecordDataIssue(ctx context.Context, splID int64, op models.OperationType, table *string, message string) {
	msg := logging.TruncateString(logging.SanitizeConnectionString(message), logging.MaxIssueMessageLength)

	fields := []zap.Field{
		zap.Int64("spl_id", splID),
		zap.String("operation_type", string(op)),
		zap.String("message", msg),
	}
	if table != nil {
		fields = append(fields, zap.String("table_name", *table))
	}
	r.logger.Error("Data error while syncing SPL, recording data issue", fields...)

	issue := &models.SPLDataIssue{
		SPLID:         &splID,
		OperationType: op,
		TableName:     table,
		ErrorMessage:  msg,
	}
	if werr := r.repo.CreateDataIssue(context.WithoutCancel(ctx), r.db.Conn(), issue); werr != nil {
		r.logger.Error("Failed to record data issue",
			zap.Int64("spl_id", splID),
			zap.Error(werr))
		return
	}
	r.metrics.IssueRecorded(metrics.IssueData)
}
