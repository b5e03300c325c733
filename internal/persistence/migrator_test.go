package persistence

import (
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/migrations"
)

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000001", extractVersion("000001_event_log.up.sql"))
	assert.Equal(t, "noversion", extractVersion("noversion"))
}

func TestLoadSortsAndChecksums(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("CREATE TABLE b ();")},
		"000001_a.up.sql":   {Data: []byte("CREATE TABLE a ();")},
		"000001_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"README.md":         {Data: []byte("notes")},
	}, zerolog.Nop())

	files, err := m.load(".up.sql")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "000001_a.up.sql", files[0].name)
	assert.Equal(t, "000002", files[1].version)
	assert.Len(t, files[0].checksum, 64)
	assert.NotEqual(t, files[0].checksum, files[1].checksum)
}

func TestPlanUp(t *testing.T) {
	m := NewMigrator(nil, migrations.FS, zerolog.Nop())
	files, err := m.load(".up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	pending, err := planUp(files, nil)
	require.NoError(t, err)
	assert.Len(t, pending, len(files))

	applied := map[string]appliedMigration{
		files[0].version: {filename: files[0].name, checksum: files[0].checksum},
	}
	pending, err = planUp(files, applied)
	require.NoError(t, err)
	assert.Len(t, pending, len(files)-1)

	// rows written before checksums were recorded are trusted
	applied[files[0].version] = appliedMigration{filename: files[0].name}
	_, err = planUp(files, applied)
	require.NoError(t, err)

	applied[files[0].version] = appliedMigration{filename: files[0].name, checksum: "stale"}
	_, err = planUp(files, applied)
	assert.ErrorIs(t, err, ErrMigrationDrift)
}

func TestPlanUpRejectsDuplicateVersions(t *testing.T) {
	files := []migrationFile{
		{version: "000001", name: "000001_a.up.sql"},
		{version: "000001", name: "000001_b.up.sql"},
	}
	_, err := planUp(files, nil)
	assert.ErrorContains(t, err, "share version")
}
