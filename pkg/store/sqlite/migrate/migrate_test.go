package migrate

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "init",
			Up:      "CREATE TABLE things (id TEXT PRIMARY KEY)",
			Down:    "DROP TABLE things",
		},
		{
			Version: 2,
			Name:    "add_name",
			Up:      "ALTER TABLE things ADD COLUMN name TEXT",
			Down:    "ALTER TABLE things DROP COLUMN name",
		},
	}
}

func TestUpAppliesPendingMigrations(t *testing.T) {
	db := openDB(t)
	m := New(db, "schema_migrations")
	m.migrations = testMigrations()

	require.NoError(t, m.Up())

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = db.Exec("INSERT INTO things (id, name) VALUES ('a', 'b')")
	assert.NoError(t, err)
}

func TestUpIsIdempotent(t *testing.T) {
	db := openDB(t)
	m := New(db, "schema_migrations")
	m.migrations = testMigrations()

	require.NoError(t, m.Up())
	require.NoError(t, m.Up())

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestDownRollsBackLatest(t *testing.T) {
	db := openDB(t)
	m := New(db, "schema_migrations")
	m.migrations = testMigrations()

	require.NoError(t, m.Up())
	require.NoError(t, m.Down())

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	_, err = db.Exec("INSERT INTO things (id, name) VALUES ('a', 'b')")
	assert.Error(t, err, "rolled-back column must be gone")
}

func TestDownWithNothingApplied(t *testing.T) {
	db := openDB(t)
	m := New(db, "schema_migrations")
	m.migrations = testMigrations()

	assert.Error(t, m.Down())
}
