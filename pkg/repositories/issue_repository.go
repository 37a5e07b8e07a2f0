package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/models"
)

// IssueRepository provides append-only access to the issue logs.
type IssueRepository interface {
	CreateParsingIssue(ctx context.Context, q database.Querier, issue *models.SPLParsingIssue) error
	CreateDataIssue(ctx context.Context, q database.Querier, issue *models.SPLDataIssue) error

	// ListParsingIssues returns parsing issues for an SPL, oldest first.
	ListParsingIssues(ctx context.Context, q database.Querier, splID int64) ([]*models.SPLParsingIssue, error)
	// ListDataIssues returns data issues for an SPL, oldest first.
	ListDataIssues(ctx context.Context, q database.Querier, splID int64) ([]*models.SPLDataIssue, error)
}

type issueRepository struct{}

// NewIssueRepository creates a new IssueRepository.
func NewIssueRepository() IssueRepository {
	return &issueRepository{}
}

var _ IssueRepository = (*issueRepository)(nil)

// ParsingIssueTable maps models.SPLParsingIssue onto spl_parsing_issues.
var ParsingIssueTable = Table[models.SPLParsingIssue]{
	Name:       models.TableSPLParsingIssues,
	IDColumn:   "id",
	Columns:    []string{"id", "spl_id", "error", "xml_content", "xml_structure", "created_at"},
	Timestamps: true,
	Values: func(i *models.SPLParsingIssue) map[string]any {
		return map[string]any{
			"spl_id":        i.SPLID,
			"error":         i.Error,
			"xml_content":   i.XMLContent,
			"xml_structure": i.XMLStructure,
		}
	},
	Scan: func(row pgx.Row) (*models.SPLParsingIssue, error) {
		var i models.SPLParsingIssue
		if err := row.Scan(&i.ID, &i.SPLID, &i.Error, &i.XMLContent, &i.XMLStructure, &i.CreatedAt); err != nil {
			return nil, err
		}
		return &i, nil
	},
}

// DataIssueTable maps models.SPLDataIssue onto spl_data_issues.
var DataIssueTable = Table[models.SPLDataIssue]{
	Name:       models.TableSPLDataIssues,
	IDColumn:   "id",
	Columns:    []string{"id", "spl_id", "operation_type", "table_name", "error_message", "created_at"},
	Timestamps: true,
	Values: func(i *models.SPLDataIssue) map[string]any {
		return map[string]any{
			"spl_id":         i.SPLID,
			"operation_type": string(i.OperationType),
			"table_name":     i.TableName,
			"error_message":  i.ErrorMessage,
		}
	},
	Scan: func(row pgx.Row) (*models.SPLDataIssue, error) {
		var i models.SPLDataIssue
		var op string
		if err := row.Scan(&i.ID, &i.SPLID, &op, &i.TableName, &i.ErrorMessage, &i.CreatedAt); err != nil {
			return nil, err
		}
		i.OperationType = models.OperationType(op)
		return &i, nil
	},
}

func (r *issueRepository) CreateParsingIssue(ctx context.Context, q database.Querier, issue *models.SPLParsingIssue) error {
	id, err := Insert(ctx, q, ParsingIssueTable, issue)
	if err != nil {
		return err
	}
	issue.ID = id
	return nil
}

func (r *issueRepository) CreateDataIssue(ctx context.Context, q database.Querier, issue *models.SPLDataIssue) error {
	if !issue.OperationType.Valid() {
		return fmt.Errorf("invalid operation type %q", issue.OperationType)
	}
	id, err := Insert(ctx, q, DataIssueTable, issue)
	if err != nil {
		return err
	}
	issue.ID = id
	return nil
}

func (r *issueRepository) ListParsingIssues(ctx context.Context, q database.Querier, splID int64) ([]*models.SPLParsingIssue, error) {
	return List(ctx, q, ParsingIssueTable, Filter{"spl_id": splID}, Page{})
}

func (r *issueRepository) ListDataIssues(ctx context.Context, q database.Querier, splID int64) ([]*models.SPLDataIssue, error) {
	return List(ctx, q, DataIssueTable, Filter{"spl_id": splID}, Page{})
}
