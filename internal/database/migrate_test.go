package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "00001_archive.sql", names[0])

	data, err := migrations.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	body := string(data)
	assert.True(t, strings.Contains(body, "-- +goose Up"))
	assert.True(t, strings.Contains(body, "-- +goose Down"))
	assert.Contains(t, body, "archived_messages")
}

func TestEnsureDatabaseRejectsEmptyName(t *testing.T) {
	err := ensureDatabase("postgres://u:p@localhost:5432/?sslmode=disable", nil)
	assert.ErrorContains(t, err, "database name is empty")
}
