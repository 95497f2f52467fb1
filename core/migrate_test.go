package core

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/bank", migrateURL("postgres://u:p@db:5432/bank"))
	assert.Equal(t, "pgx5://u:p@db/bank", migrateURL("postgresql://u:p@db/bank"))
	assert.Equal(t, "pgx5://db/bank", migrateURL("pgx5://db/bank"))
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"migrations/000001_create_users.up.sql",
		"migrations/000001_create_users.down.sql",
		"migrations/000002_create_sessions.up.sql",
		"migrations/000002_create_sessions.down.sql",
	}, files)

	users, err := fs.ReadFile(migrationsFS, "migrations/000001_create_users.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(users), "users_username_key UNIQUE (username)")
}

type fakeMigrator struct {
	upErr      error
	version    uint
	versionErr error
}

func (f *fakeMigrator) Up() error   { return f.upErr }
func (f *fakeMigrator) Down() error { return f.upErr }
func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, false, f.versionErr
}
func (f *fakeMigrator) Close() (error, error) { return nil, nil }

func TestMigrator_NoChangeIsSuccess(t *testing.T) {
	m := &Migrator{m: &fakeMigrator{upErr: migrate.ErrNoChange}}
	assert.NoError(t, m.Up())
	assert.NoError(t, m.Down())

	m = &Migrator{m: &fakeMigrator{upErr: errors.New("dirty database")}}
	assert.Error(t, m.Up())
}

func TestMigrator_Version(t *testing.T) {
	m := &Migrator{m: &fakeMigrator{versionErr: migrate.ErrNilVersion}}
	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)

	m = &Migrator{m: &fakeMigrator{version: 2}}
	v, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.NoError(t, m.Close())
}
