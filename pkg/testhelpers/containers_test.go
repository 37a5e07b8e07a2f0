//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestMedsearchDB_SchemaApplied(t *testing.T) {
	db := GetMedsearchDB(t)

	ctx := context.Background()

	tables := []string{
		"spls", "med_forms", "meds", "organizations",
		"med_organization_map", "spl_parsing_issues", "spl_data_issues",
	}

	for _, table := range tables {
		var exists bool
		err := db.DB.Pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to look up %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist after migrations", table)
		}
	}
}

func TestMedsearchDB_Reset(t *testing.T) {
	db := GetMedsearchDB(t)
	ctx := context.Background()

	_, err := db.DB.Pool.Exec(ctx,
		`INSERT INTO spls (set_id, title, version, published_date) VALUES ('reset-check', 'x', 1, '2024-01-01')`)
	if err != nil {
		t.Fatalf("failed to seed spls: %v", err)
	}

	db.Reset(t)

	var count int
	if err := db.DB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM spls").Scan(&count); err != nil {
		t.Fatalf("failed to count spls: %v", err)
	}
	if count != 0 {
		t.Errorf("expected spls to be empty after Reset, got %d rows", count)
	}
}
