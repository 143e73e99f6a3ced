package storage

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Columns the queries read or write, keyed by table. Guards the SQL
// constants against drifting from the migration schema.
var queryColumns = map[string][]string{
	"alerts": {
		"id", "owner_id", "asset", "currency", "rule_type", "karat",
		"threshold", "status", "created_at", "last_triggered_at",
	},
	"trigger_events": {
		"id", "alert_id", "owner_id", "asset", "rule_type", "price",
		"currency", "fired_at", "created_at",
	},
	"price_samples": {
		"observed_ts", "asset", "currency", "price", "price_usd", "created_at",
	},
}

func TestMigrationDefinesQueriedColumns(t *testing.T) {
	body, err := os.ReadFile(filepath.Join("..", "..", "migrations", "0001_init.sql"))
	require.NoError(t, err)

	tables := parseTableColumns(t, string(body))

	for table, columns := range queryColumns {
		defined, ok := tables[table]
		require.True(t, ok, "migration does not create table %s", table)
		for _, column := range columns {
			assert.Contains(t, defined, column, "%s.%s is queried but not defined", table, column)
		}
	}
}

var createTableRe = regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS (\w+) \((.*?)\);`)

func parseTableColumns(t *testing.T, sql string) map[string]map[string]struct{} {
	t.Helper()

	tables := make(map[string]map[string]struct{})
	for _, match := range createTableRe.FindAllStringSubmatch(sql, -1) {
		columns := make(map[string]struct{})
		for _, line := range strings.Split(match[2], "\n") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			name := strings.ToLower(fields[0])
			if name == "primary" || name == "check" || name == "constraint" {
				continue
			}
			columns[name] = struct{}{}
		}
		tables[match[1]] = columns
	}
	return tables
}
