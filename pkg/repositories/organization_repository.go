package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/models"
)

// OrganizationRepository provides data access for the labeler lookup.
type OrganizationRepository interface {
	// FindByNIHID returns the organization keyed by (extension, root), or
	// apperrors.ErrNotFound. nil matches NULL.
	FindByNIHID(ctx context.Context, q database.Querier, extension, root *string) (*models.Organization, error)

	// Upsert writes org keyed by (nih_id_extension, nih_id_root) and returns its id.
	Upsert(ctx context.Context, q database.Querier, org *models.Organization) (int64, error)
}

type organizationRepository struct{}

// NewOrganizationRepository creates a new OrganizationRepository.
func NewOrganizationRepository() OrganizationRepository {
	return &organizationRepository{}
}

var _ OrganizationRepository = (*organizationRepository)(nil)

// OrganizationTable maps models.Organization onto the organizations table.
var OrganizationTable = Table[models.Organization]{
	Name:       models.TableOrganizations,
	IDColumn:   "id",
	Columns:    []string{"id", "name", "nih_id_extension", "nih_id_root", "created_at", "updated_at", "deleted_at"},
	Timestamps: true,
	Values: func(o *models.Organization) map[string]any {
		return map[string]any{
			"name":             o.Name,
			"nih_id_extension": o.NIHIDExtension,
			"nih_id_root":      o.NIHIDRoot,
		}
	},
	Scan: func(row pgx.Row) (*models.Organization, error) {
		var o models.Organization
		if err := row.Scan(&o.ID, &o.Name, &o.NIHIDExtension, &o.NIHIDRoot, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt); err != nil {
			return nil, err
		}
		return &o, nil
	},
}

func (r *organizationRepository) FindByNIHID(ctx context.Context, q database.Querier, extension, root *string) (*models.Organization, error) {
	return Get(ctx, q, OrganizationTable, Filter{"nih_id_extension": extension, "nih_id_root": root})
}

func (r *organizationRepository) Upsert(ctx context.Context, q database.Querier, org *models.Organization) (int64, error) {
	id, err := Upsert(ctx, q, OrganizationTable, org, Filter{
		"nih_id_extension": org.NIHIDExtension,
		"nih_id_root":      org.NIHIDRoot,
	})
	if err != nil {
		return 0, err
	}
	org.ID = id
	return id, nil
}
