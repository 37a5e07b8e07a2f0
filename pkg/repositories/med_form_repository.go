package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/models"
)

// MedFormRepository provides data access for the dosage form lookup.
type MedFormRepository interface {
	// FindByCode returns the form keyed by (code, codeSystem), or
	// apperrors.ErrNotFound. nil matches NULL.
	FindByCode(ctx context.Context, q database.Querier, code, codeSystem *string) (*models.MedForm, error)

	// Upsert writes form keyed by (code, code_system) and returns its id.
	Upsert(ctx context.Context, q database.Querier, form *models.MedForm) (int64, error)
}

type medFormRepository struct{}

// NewMedFormRepository creates a new MedFormRepository.
func NewMedFormRepository() MedFormRepository {
	return &medFormRepository{}
}

var _ MedFormRepository = (*medFormRepository)(nil)

// MedFormTable maps models.MedForm onto the med_forms table.
var MedFormTable = Table[models.MedForm]{
	Name:       models.TableMedForms,
	IDColumn:   "id",
	Columns:    []string{"id", "code", "code_system", "name", "created_at", "updated_at", "deleted_at"},
	Timestamps: true,
	Values: func(f *models.MedForm) map[string]any {
		return map[string]any{
			"code":        f.Code,
			"code_system": f.CodeSystem,
			"name":        f.Name,
		}
	},
	Scan: func(row pgx.Row) (*models.MedForm, error) {
		var f models.MedForm
		if err := row.Scan(&f.ID, &f.Code, &f.CodeSystem, &f.Name, &f.CreatedAt, &f.UpdatedAt, &f.DeletedAt); err != nil {
			return nil, err
		}
		return &f, nil
	},
}

func (r *medFormRepository) FindByCode(ctx context.Context, q database.Querier, code, codeSystem *string) (*models.MedForm, error) {
	return Get(ctx, q, MedFormTable, Filter{"code": code, "code_system": codeSystem})
}

func (r *medFormRepository) Upsert(ctx context.Context, q database.Querier, form *models.MedForm) (int64, error) {
	id, err := Upsert(ctx, q, MedFormTable, form, Filter{"code": form.Code, "code_system": form.CodeSystem})
	if err != nil {
		return 0, err
	}
	form.ID = id
	return id, nil
}
