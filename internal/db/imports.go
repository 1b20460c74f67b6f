package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ResolveLatestImportDBName returns the db_name of the most recent successful
// import of the named timetable (e.g. "gapeka2025") from
// public.timetable_imports.
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, timetable string) (string, error) {
	timetable = strings.TrimSpace(timetable)
	if timetable == "" {
		return "", fmt.Errorf("timetable is required")
	}
	// Fully qualified to the public schema (assumes we are connected to the 'postgres' database)
	q := `
SELECT db_name
FROM public.timetable_imports
WHERE succeeded AND timetable ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var dbName sql.NullString
	if err := meta.QueryRowContext(ctx, q, timetable).Scan(&dbName); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("no import found for timetable like %q", timetable)
		}
		return "", err
	}
	if !dbName.Valid || dbName.String == "" {
		return "", fmt.Errorf("empty db_name for timetable like %q", timetable)
	}
	return dbName.String, nil
}
