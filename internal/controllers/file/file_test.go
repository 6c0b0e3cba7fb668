package file_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	filectl "github.com/eric2788/screenrec/internal/controllers/file"
	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/internal/services/file"
	"github.com/eric2788/screenrec/internal/services/path"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type busySet map[string]bool

func (b busySet) IsProcessing(p string) bool { return b[p] }

func newTestApp(t *testing.T, busy busySet) (*fiber.App, string) {
	t.Helper()
	base := t.TempDir()
	pathSvc := path.NewService(&config.Config{RecordingsDir: base, JwtSecret: "secret"})
	app := fiber.New()
	filectl.NewController(app, file.NewService(pathSvc), pathSvc, busy)
	return app, base
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0644))
}

func TestBrowse(t *testing.T) {
	busy := busySet{}
	app, base := newTestApp(t, busy)
	writeFile(t, filepath.Join(base, "recording_s1_video.webm"), "v")
	writeFile(t, filepath.Join(base, "recording_s1_1.json"), "{}")
	busy[filepath.Join(base, "recording_s1_video.webm")] = true

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/files/browse/", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var trees []file.Tree
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trees))
	require.Len(t, trees, 2)
	assert.False(t, trees[0].Processing)
	assert.True(t, trees[1].Processing)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/files/browse/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownload(t *testing.T) {
	app, base := newTestApp(t, busySet{})
	writeFile(t, filepath.Join(base, "recording_s1_audio.webm"), "audio-bytes")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/files/download/recording_s1_audio.webm", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "audio-bytes", string(body))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "recording_s1_audio.webm")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/files/download/missing.webm", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPresignedDownload(t *testing.T) {
	app, base := newTestApp(t, busySet{})
	writeFile(t, filepath.Join(base, "recording_s1_1.json"), `{"sessionId":"s1"}`)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/files/presigned/recording_s1_1.json?ttl=60", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var presigned filectl.PresignedURLResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presigned))
	assert.Equal(t, 60, presigned.ExpiresIn)
	require.True(t, strings.HasPrefix(presigned.URL, "/files/tempdownload?presigned="))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, presigned.URL, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"sessionId":"s1"}`, string(body))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/files/tempdownload?presigned=garbage", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/files/presigned/recording_s1_1.json?ttl=-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelete(t *testing.T) {
	busy := busySet{}
	app, base := newTestApp(t, busy)
	writeFile(t, filepath.Join(base, "a.json"), "{}")
	writeFile(t, filepath.Join(base, "b.json"), "{}")
	writeFile(t, filepath.Join(base, "archive", "c.json"), "{}")
	busy[filepath.Join(base, "b.json")] = true

	req := httptest.NewRequest(http.MethodDelete, "/files/batch", strings.NewReader(`["a.json","b.json"]`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.FileExists(t, filepath.Join(base, "a.json"))

	req = httptest.NewRequest(http.MethodDelete, "/files/batch", strings.NewReader(`["a.json"]`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NoFileExists(t, filepath.Join(base, "a.json"))

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/files/archive", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NoDirExists(t, filepath.Join(base, "archive"))
}

func TestAnyBusy(t *testing.T) {
	busy := filectl.AnyBusy(
		func(p string) bool { return p == "a" },
		func(p string) bool { return p == "b" },
	)
	assert.True(t, busy.IsProcessing("a"))
	assert.True(t, busy.IsProcessing("b"))
	assert.False(t, busy.IsProcessing("c"))
}
