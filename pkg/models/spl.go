// Package models contains domain types for medsearch.
package models

import (
	"time"
)

// Table names of the catalog schema.
const (
	TableSPLs               = "spls"
	TableMedForms           = "med_forms"
	TableMeds               = "meds"
	TableOrganizations      = "organizations"
	TableMedOrganizationMap = "med_organization_map"
	TableSPLParsingIssues   = "spl_parsing_issues"
	TableSPLDataIssues      = "spl_data_issues"
)

// SPL is one entry of the DailyMed list feed, identified by its set id.
// Stored in spls table.
type SPL struct {
	ID            int64      `json:"id"`
	SetID         string     `json:"set_id"`
	Title         string     `json:"title"`
	Version       int        `json:"version"`
	PublishedDate time.Time  `json:"published_date"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// SPLRef is the minimal identity the detail sync needs.
type SPLRef struct {
	ID      int64
	SetID   string
	Version int
}
