package pg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const schemaFile = "../../../ops/migrations/sql/0001_access_schema.up.sql"

type columnDef struct {
	notNull    bool
	hasDefault bool
}

// loadSchema parses the migration DDL into table -> column definitions, so
// the assertions below track the schema the store actually runs against.
func loadSchema(t *testing.T) map[string]map[string]columnDef {
	t.Helper()
	raw, err := os.ReadFile(filepath.Clean(schemaFile))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	tables := make(map[string]map[string]columnDef)
	var current map[string]columnDef
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "create table if not exists ") {
			name := strings.TrimPrefix(line, "create table if not exists ")
			name = strings.TrimSpace(strings.TrimSuffix(name, "("))
			current = make(map[string]columnDef)
			tables[name] = current
			continue
		}
		if current == nil {
			continue
		}
		if strings.HasPrefix(line, ");") {
			current = nil
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		current[fields[0]] = columnDef{
			notNull:    strings.Contains(line, "not null"),
			hasDefault: strings.Contains(line, "default "),
		}
	}
	return tables
}

func splitColumns(list string) []string {
	parts := strings.Split(list, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func TestStoreColumnsExistInSchema(t *testing.T) {
	tables := loadSchema(t)
	cases := []struct {
		table string
		list  string
	}{
		{"access_request", requestColumns},
		{"access_request", requestInsertColumns},
		{"access_grant", grantColumns},
		{"access_grant", grantInsertColumns},
	}
	for _, tc := range cases {
		cols, ok := tables[tc.table]
		if !ok {
			t.Fatalf("table %s missing from migration", tc.table)
		}
		for _, col := range splitColumns(tc.list) {
			if _, ok := cols[col]; !ok {
				t.Fatalf("store references %s.%s, not defined in migration", tc.table, col)
			}
		}
	}
}

// Every not-null column the inserts do not supply must carry a default, or
// Create fails with a 23502 against the migrated schema.
func TestInsertsCoverRequiredColumns(t *testing.T) {
	tables := loadSchema(t)
	cases := []struct {
		table  string
		insert string
	}{
		{"access_request", requestInsertColumns},
		{"access_grant", grantInsertColumns},
	}
	for _, tc := range cases {
		supplied := make(map[string]bool)
		for _, col := range splitColumns(tc.insert) {
			supplied[col] = true
		}
		for col, def := range tables[tc.table] {
			if def.notNull && !def.hasDefault && !supplied[col] {
				t.Fatalf("%s.%s is not null without default and the insert never supplies it", tc.table, col)
			}
		}
	}
}
