package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestMigrationsCreatePipelineTables(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_registration_pipeline.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"registrations", "trackers", "idempotency_records", "outbox_events", "audit_logs"} {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	_, err := RunMigrations(nil)
	assert.Error(t, err)
}
