package db

import (
	"fmt"
	"net/url"
	"strings"
)

// WithDBName returns dsn pointed at database instead. URL DSNs
// (postgres://, postgresql://, or scheme-less host/db) get their path
// replaced; keyword/value DSNs ("host=x dbname=y") get dbname set.
func WithDBName(dsn, database string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	database = strings.TrimPrefix(database, "/")
	if database == "" {
		return "", fmt.Errorf("empty database name")
	}
	if isKeywordDSN(dsn) {
		return withKeywordDBName(dsn, database), nil
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + database
	return u.String(), nil
}

func isKeywordDSN(dsn string) bool {
	return !strings.Contains(dsn, "://") && strings.Contains(strings.Fields(dsn)[0], "=")
}

func withKeywordDBName(dsn, database string) string {
	fields := strings.Fields(dsn)
	replaced := false
	for i, f := range fields {
		if strings.HasPrefix(f, "dbname=") {
			fields[i] = "dbname=" + database
			replaced = true
		}
	}
	if !replaced {
		fields = append(fields, "dbname="+database)
	}
	return strings.Join(fields, " ")
}
