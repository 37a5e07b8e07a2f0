package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/models"
)

// MedRepository provides data access for medications and their labelers.
type MedRepository interface {
	// Upsert writes med keyed by its natural key and returns its id.
	Upsert(ctx context.Context, q database.Querier, med *models.Med) (int64, error)

	// ListBySPL returns every med of an SPL in id order.
	ListBySPL(ctx context.Context, q database.Querier, splID int64) ([]*models.Med, error)

	// LinkOrganization records that org labels med. Linking twice is a no-op.
	LinkOrganization(ctx context.Context, q database.Querier, medID, orgID int64) error

	// ListOrganizationLinks returns the organization links of med.
	ListOrganizationLinks(ctx context.Context, q database.Querier, medID int64) ([]*models.MedOrganizationMap, error)

	// MarkSynced stamps updated_at on every med of an SPL, so the SPL counts
	// as current even when its detail document did not change.
	MarkSynced(ctx context.Context, q database.Querier, splID int64) error
}

type medRepository struct{}

// NewMedRepository creates a new MedRepository.
func NewMedRepository() MedRepository {
	return &medRepository{}
}

var _ MedRepository = (*medRepository)(nil)

// MedTable maps models.Med onto the meds table.
var MedTable = Table[models.Med]{
	Name:     models.TableMeds,
	IDColumn: "id",
	Columns: []string{
		"id", "spl_id", "med_form_id", "code", "code_system", "name", "generic_name",
		"effective_date", "version_number", "created_at", "updated_at", "deleted_at",
	},
	Timestamps: true,
	Values: func(m *models.Med) map[string]any {
		return map[string]any{
			"spl_id":         m.SPLID,
			"med_form_id":    m.MedFormID,
			"code":           m.Code,
			"code_system":    m.CodeSystem,
			"name":           m.Name,
			"generic_name":   m.GenericName,
			"effective_date": m.EffectiveDate,
			"version_number": m.VersionNumber,
		}
	},
	Scan: func(row pgx.Row) (*models.Med, error) {
		var m models.Med
		err := row.Scan(&m.ID, &m.SPLID, &m.MedFormID, &m.Code, &m.CodeSystem, &m.Name, &m.GenericName,
			&m.EffectiveDate, &m.VersionNumber, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
		if err != nil {
			return nil, err
		}
		return &m, nil
	},
}

// MedOrganizationMapTable maps models.MedOrganizationMap onto med_organization_map.
var MedOrganizationMapTable = Table[models.MedOrganizationMap]{
	Name:    models.TableMedOrganizationMap,
	Columns: []string{"med_id", "org_id"},
	Values: func(m *models.MedOrganizationMap) map[string]any {
		return map[string]any{"med_id": m.MedID, "org_id": m.OrgID}
	},
	Scan: func(row pgx.Row) (*models.MedOrganizationMap, error) {
		var m models.MedOrganizationMap
		if err := row.Scan(&m.MedID, &m.OrgID); err != nil {
			return nil, err
		}
		return &m, nil
	},
}

func (r *medRepository) Upsert(ctx context.Context, q database.Querier, med *models.Med) (int64, error) {
	id, err := Upsert(ctx, q, MedTable, med, Filter{
		"spl_id":         med.SPLID,
		"code":           med.Code,
		"code_system":    med.CodeSystem,
		"effective_date": med.EffectiveDate,
		"version_number": med.VersionNumber,
	})
	if err != nil {
		return 0, err
	}
	med.ID = id
	return id, nil
}

func (r *medRepository) ListBySPL(ctx context.Context, q database.Querier, splID int64) ([]*models.Med, error) {
	return List(ctx, q, MedTable, Filter{"spl_id": splID}, Page{})
}

func (r *medRepository) LinkOrganization(ctx context.Context, q database.Querier, medID, orgID int64) error {
	link := &models.MedOrganizationMap{MedID: medID, OrgID: orgID}
	_, err := Upsert(ctx, q, MedOrganizationMapTable, link, Filter{"med_id": medID, "org_id": orgID})
	return err
}

func (r *medRepository) ListOrganizationLinks(ctx context.Context, q database.Querier, medID int64) ([]*models.MedOrganizationMap, error) {
	return List(ctx, q, MedOrganizationMapTable, Filter{"med_id": medID}, Page{})
}

func (r *medRepository) MarkSynced(ctx context.Context, q database.Querier, splID int64) error {
	_, err := q.Exec(ctx, `UPDATE meds SET updated_at = now() WHERE spl_id = $1 AND deleted_at IS NULL`, splID)
	if err != nil {
		return fmt.Errorf("failed to mark meds of spl %d synced: %w", splID, err)
	}
	return nil
}
