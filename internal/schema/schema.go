// Package schema holds the fixed data-plane schema shared by every project
// store. Table names are a closed registry: isolation policies and DDL are
// generated only from these constants, never from caller input.
package schema

// Data-plane tables present in every project store.
const (
	TableStratigraphicUnits = "stratigraphic_units"
	TableFinds              = "finds"
	TablePottery            = "pottery"
	TableMediaFiles         = "media_files"
	TableFieldNotes         = "field_notes"
)

// Tables returns the allow-listed data-plane table names, in DDL order.
func Tables() []string {
	return []string{
		TableStratigraphicUnits,
		TableFinds,
		TablePottery,
		TableMediaFiles,
		TableFieldNotes,
	}
}

// IsKnownTable reports whether the name is part of the fixed registry.
func IsKnownTable(name string) bool {
	for _, t := range Tables() {
		if t == name {
			return true
		}
	}
	return false
}

// DDL is the idempotent statement set applied to shared project stores.
// Every statement uses IF NOT EXISTS semantics so re-running against an
// already-provisioned database is a no-op.
var DDL = []string{
	`CREATE TABLE IF NOT EXISTS ` + TableStratigraphicUnits + ` (
		id SERIAL PRIMARY KEY,
		site TEXT NOT NULL,
		area TEXT,
		us_number INTEGER NOT NULL,
		definition TEXT,
		description TEXT,
		interpretation TEXT,
		period TEXT,
		phase TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableFinds + ` (
		id SERIAL PRIMARY KEY,
		site TEXT NOT NULL,
		inventory_number TEXT NOT NULL,
		material_type TEXT,
		description TEXT,
		us_number INTEGER,
		conservation_state TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TablePottery + ` (
		id SERIAL PRIMARY KEY,
		site TEXT NOT NULL,
		form TEXT,
		fabric TEXT,
		ware TEXT,
		decoration TEXT,
		us_number INTEGER,
		quantity INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableMediaFiles + ` (
		id SERIAL PRIMARY KEY,
		file_name TEXT NOT NULL,
		media_type TEXT,
		file_path TEXT NOT NULL,
		entity_table TEXT,
		entity_id INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableFieldNotes + ` (
		id SERIAL PRIMARY KEY,
		title TEXT,
		body TEXT,
		author_id INTEGER,
		recorded_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
