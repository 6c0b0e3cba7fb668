package pool_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eric2788/screenrec/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct {
	r     io.Reader
	after int
	read  int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.read >= f.after {
		return 0, errors.New("disk went away")
	}
	if len(p) > f.after-f.read {
		p = p[:f.after-f.read]
	}
	n, err := f.r.Read(p)
	f.read += n
	return n, err
}

func (f *failingReader) Close() error { return nil }

func listTemps(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var temps []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			temps = append(temps, e.Name())
		}
	}
	return temps
}

func TestWriteToFile_ReplacesTarget(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.webm")
	require.NoError(t, os.WriteFile(out, []byte("old"), 0o644))

	w := pool.NewFileStreamWriter(context.Background(), pool.NewBytesPool(4))
	n, err := w.WriteToFile(io.NopCloser(strings.NewReader("AAABBB")), out, 16, 6)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(data))
	assert.Empty(t, listTemps(t, dir))
}

func TestWriteToFile_FailureKeepsExistingTarget(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.webm")
	require.NoError(t, os.WriteFile(out, []byte("old"), 0o644))

	w := pool.NewFileStreamWriter(context.Background(), pool.NewBytesPool(2))
	_, err := w.WriteToFile(&failingReader{r: strings.NewReader("AAABBB"), after: 3}, out, 16, 6)
	require.Error(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "a failed copy must not touch the target")
	assert.Empty(t, listTemps(t, dir))
}

func TestWriteToFile_SizeMismatch(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.webm")

	w := pool.NewFileStreamWriter(context.Background(), pool.NewBytesPool(8))
	_, err := w.WriteToFile(io.NopCloser(strings.NewReader("AAA")), out, 16, 6)
	require.ErrorIs(t, err, pool.ErrIncompleteCopy)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, listTemps(t, dir))
}

func TestWriteToFile_Cancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pr, pw := io.Pipe()
	defer pw.Close()

	w := pool.NewFileStreamWriter(ctx, pool.NewBytesPool(8))
	_, err := w.WriteToFile(pr, filepath.Join(dir, "out.webm"), 16, -1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listTemps(t, dir))
}
