package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/blit/internal/config"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0644))
}

func TestDiscoverBmap(t *testing.T) {
	dir := t.TempDir()

	image := filepath.Join(dir, "disk.img")
	touch(t, image)
	assert.Empty(t, discoverBmap(image))

	touch(t, filepath.Join(dir, "disk.img.bmap"))
	assert.Equal(t, filepath.Join(dir, "disk.img.bmap"), discoverBmap(image))

	// A compressed image finds the uncompressed image's bmap.
	compressed := filepath.Join(dir, "disk.img.gz")
	touch(t, compressed)
	assert.Equal(t, filepath.Join(dir, "disk.img.bmap"), discoverBmap(compressed))

	// Falls back to the exact image name plus .bmap.
	touch(t, filepath.Join(dir, "other.img.zst"))
	touch(t, filepath.Join(dir, "other.img.zst.bmap"))
	assert.Equal(t, filepath.Join(dir, "other.img.zst.bmap"),
		discoverBmap(filepath.Join(dir, "other.img.zst")))
}

func TestSizeFlag(t *testing.T) {
	var bytes int64
	f := &sizeFlag{bytes: &bytes}

	require.NoError(t, f.Set("4MiB"))
	assert.Equal(t, int64(4*1024*1024), bytes)
	assert.Equal(t, "4.0 MiB", f.String())

	require.NoError(t, f.Set("512"))
	assert.Equal(t, int64(512), bytes)

	assert.Error(t, f.Set("not a size"))
	assert.Equal(t, "size", f.Type())
}

func TestApplyConfigDefaults(t *testing.T) {
	boolPtr := func(v bool) *bool { return &v }
	strPtr := func(v string) *string { return &v }

	cmd := newCopyCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--no-sync"}))

	var noVerify, verifyDest, quiet bool
	noSync := true // set on the CLI above

	defaults := config.DefaultsConfig{
		Verify:     boolPtr(false),
		Sync:       boolPtr(true), // must lose to the explicit --no-sync
		VerifyDest: boolPtr(true),
		Quiet:      boolPtr(true),
		BatchSize:  strPtr("2MiB"),
	}
	require.NoError(t, applyConfigDefaults(cmd, defaults, &noVerify, &noSync, &verifyDest, &quiet))

	assert.True(t, noVerify, "config verify=false should disable verification")
	assert.True(t, noSync, "explicit flag wins over config")
	assert.True(t, verifyDest)
	assert.True(t, quiet)
	assert.Equal(t, "2.0 MiB", cmd.Flags().Lookup("batch-size").Value.String())
}

func TestApplyConfigDefaults_BadBatchSize(t *testing.T) {
	cmd := newCopyCmd()
	require.NoError(t, cmd.Flags().Parse(nil))

	bad := "bogus"
	var noVerify, noSync, verifyDest, quiet bool
	err := applyConfigDefaults(cmd, config.DefaultsConfig{BatchSize: &bad},
		&noVerify, &noSync, &verifyDest, &quiet)
	assert.Error(t, err)
}
