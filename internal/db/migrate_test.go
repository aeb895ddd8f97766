package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortedAndVersioned(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Positive(t, m.Version)
		assert.NotEmpty(t, m.SQL)
		if i > 0 {
			assert.Greater(t, m.Version, migrations[i-1].Version)
		}
	}
}

func TestLoadMigrations_ActiveUniquenessIndexes(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)

	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	sql := all.String()

	assert.Contains(t, sql, "appointments_doctor_active_uq")
	assert.Contains(t, sql, "appointments_patient_active_uq")
	assert.Contains(t, sql, "WHERE status <> 'CANCELLED'")
}
