package models

import (
	"time"
)

// MedForm is a dosage form lookup keyed by (code, code_system).
// Stored in med_forms table.
type MedForm struct {
	ID         int64      `json:"id"`
	Code       *string    `json:"code"`
	CodeSystem *string    `json:"code_system"`
	Name       *string    `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Med is the medication described by one SPL detail document.
// Stored in meds table. The natural key is
// (spl_id, code, code_system, effective_date, version_number); every
// attribute except the form is NOT NULL in the schema, so a nil here fails
// on write.
type Med struct {
	ID            int64      `json:"id"`
	SPLID         int64      `json:"spl_id"`
	MedFormID     *int64     `json:"med_form_id,omitempty"`
	Code          *string    `json:"code"`
	CodeSystem    *string    `json:"code_system"`
	Name          *string    `json:"name"`
	GenericName   *string    `json:"generic_name"`
	EffectiveDate *time.Time `json:"effective_date"`
	VersionNumber *int       `json:"version_number"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Organization is a labeler lookup keyed by its NIH id (extension, root).
// Stored in organizations table.
type Organization struct {
	ID             int64      `json:"id"`
	Name           *string    `json:"name"`
	NIHIDExtension *string    `json:"nih_id_extension"`
	NIHIDRoot      *string    `json:"nih_id_root"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// MedOrganizationMap associates a Med with an Organization.
type MedOrganizationMap struct {
	MedID int64 `json:"med_id"`
	OrgID int64 `json:"org_id"`
}
