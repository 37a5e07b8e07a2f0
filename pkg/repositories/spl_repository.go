package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/models"
)

// SPLRepository provides data access for list feed entries.
type SPLRepository interface {
	// Upsert writes spl keyed by set_id and returns its id.
	Upsert(ctx context.Context, q database.Querier, spl *models.SPL) (int64, error)

	// GetBySetID returns the SPL with the given set id, or apperrors.ErrNotFound.
	GetBySetID(ctx context.Context, q database.Querier, setID string) (*models.SPL, error)

	// List returns SPLs in id order.
	List(ctx context.Context, q database.Querier, page Page) ([]*models.SPL, error)

	// LatestPublishedDate returns the newest published_date, or nil when the
	// table is empty.
	LatestPublishedDate(ctx context.Context, q database.Querier) (*time.Time, error)

	// ListNeedingDetailSync returns up to limit SPLs with id > afterID whose
	// detail has never been synced or is older (by calendar day) than the
	// SPL row itself.
	ListNeedingDetailSync(ctx context.Context, q database.Querier, afterID int64, limit int) ([]models.SPLRef, error)
}

type splRepository struct{}

// NewSPLRepository creates a new SPLRepository.
func NewSPLRepository() SPLRepository {
	return &splRepository{}
}

var _ SPLRepository = (*splRepository)(nil)

// SPLTable maps models.SPL onto the spls table.
var SPLTable = Table[models.SPL]{
	Name:       models.TableSPLs,
	IDColumn:   "id",
	Columns:    []string{"id", "set_id", "title", "version", "published_date", "created_at", "updated_at", "deleted_at"},
	Timestamps: true,
	Values: func(s *models.SPL) map[string]any {
		return map[string]any{
			"set_id":         s.SetID,
			"title":          s.Title,
			"version":        s.Version,
			"published_date": s.PublishedDate,
		}
	},
	Scan: func(row pgx.Row) (*models.SPL, error) {
		var s models.SPL
		err := row.Scan(&s.ID, &s.SetID, &s.Title, &s.Version, &s.PublishedDate, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
		if err != nil {
			return nil, err
		}
		return &s, nil
	},
}

func (r *splRepository) Upsert(ctx context.Context, q database.Querier, spl *models.SPL) (int64, error) {
	id, err := Upsert(ctx, q, SPLTable, spl, Filter{"set_id": spl.SetID})
	if err != nil {
		return 0, err
	}
	spl.ID = id
	return id, nil
}

func (r *splRepository) GetBySetID(ctx context.Context, q database.Querier, setID string) (*models.SPL, error) {
	return Get(ctx, q, SPLTable, Filter{"set_id": setID})
}

func (r *splRepository) List(ctx context.Context, q database.Querier, page Page) ([]*models.SPL, error) {
	return List(ctx, q, SPLTable, nil, page)
}

func (r *splRepository) LatestPublishedDate(ctx context.Context, q database.Querier) (*time.Time, error) {
	var latest *time.Time
	err := q.QueryRow(ctx, `SELECT MAX(published_date) FROM spls WHERE deleted_at IS NULL`).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest published date: %w", err)
	}
	return latest, nil
}

func (r *splRepository) ListNeedingDetailSync(ctx context.Context, q database.Querier, afterID int64, limit int) ([]models.SPLRef, error) {
	query := `
		SELECT s.id, s.set_id, s.version
		FROM spls s
		LEFT JOIN meds m ON m.spl_id = s.id AND m.deleted_at IS NULL
		WHERE s.id > $1 AND s.deleted_at IS NULL
		GROUP BY s.id, s.set_id, s.version, s.updated_at
		HAVING MAX(m.updated_at) IS NULL
		    OR MAX(m.updated_at)::date < s.updated_at::date
		ORDER BY s.id
		LIMIT $2`

	rows, err := q.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select spls needing detail sync: %w", err)
	}
	defer rows.Close()

	var refs []models.SPLRef
	for rows.Next() {
		var ref models.SPLRef
		if err := rows.Scan(&ref.ID, &ref.SetID, &ref.Version); err != nil {
			return nil, fmt.Errorf("failed to scan spl ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spl refs: %w", err)
	}
	return refs, nil
}
