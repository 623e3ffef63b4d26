package image_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/blit/internal/image"
)

func writeGzip(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func writeZstd(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestOpen_RawFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img")
	data := bytes.Repeat([]byte{0x5a}, 8192)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	src, err := image.Open(path)
	require.NoError(t, err)
	defer src.Close()

	size, known := src.Size()
	assert.True(t, known)
	assert.Equal(t, int64(len(data)), size)

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Raw files seek backwards freely.
	_, err = src.Seek(0, io.SeekStart)
	require.NoError(t, err)
	got, err = io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOpen_Gzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.gz")
	data := bytes.Repeat([]byte{1, 2, 3, 4}, 3000)
	writeGzip(t, path, data)

	src, err := image.Open(path)
	require.NoError(t, err)
	defer src.Close()

	_, known := src.Size()
	assert.False(t, known, "compressed image must report unknown size")

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOpen_Zstd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.zst")
	data := bytes.Repeat([]byte{9, 8, 7}, 5000)
	writeZstd(t, path, data)

	src, err := image.Open(path)
	require.NoError(t, err)
	defer src.Close()

	_, known := src.Size()
	assert.False(t, known)

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStream_SeekForwardAndRewind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.gz")
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i)
	}
	writeGzip(t, path, data)

	src, err := image.Open(path)
	require.NoError(t, err)
	defer src.Close()

	// Forward seek discards decompressed bytes.
	pos, err := src.Seek(5000, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), pos)

	buf := make([]byte, 100)
	_, err = io.ReadFull(src, buf)
	require.NoError(t, err)
	assert.Equal(t, data[5000:5100], buf)

	// Rewind replays the stream from the start.
	pos, err = src.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	_, err = io.ReadFull(src, buf)
	require.NoError(t, err)
	assert.Equal(t, data[:100], buf)

	// SeekCurrent works relative to the stream position.
	pos, err = src.Seek(100, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(200), pos)

	// SeekEnd is meaningless for a stream of unknown length.
	_, err = src.Seek(0, io.SeekEnd)
	assert.Error(t, err)
}

func TestOpen_Missing(t *testing.T) {
	_, err := image.Open(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestOpen_NotRegular(t *testing.T) {
	_, err := image.Open(t.TempDir())
	assert.Error(t, err)
}

func TestNewFile(t *testing.T) {
	data := []byte("hello image")
	src := image.NewFile(bytes.NewReader(data), int64(len(data)))

	size, known := src.Size()
	assert.True(t, known)
	assert.Equal(t, int64(len(data)), size)

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	require.NoError(t, src.Close())
}
