package rest_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/internal/modules/rest"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAuthApp(t *testing.T) *fiber.App {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pass"), bcrypt.MinCost)
	require.NoError(t, err)
	app := rest.New(&config.Config{
		Username:           "admin",
		PasswordHash:       string(hash),
		JwtSecret:          "secret",
		MaxChunkMegabytes:  1,
		MaxUploadMegabytes: 1,
	})
	app.Get("/ping", func(c fiber.Ctx) error { return c.SendString("pong") })
	return app
}

func login(t *testing.T, app *fiber.App, user, pass string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user":"`+user+`","pass":"`+pass+`"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestLoginAndProtectedRoute(t *testing.T) {
	app := newAuthApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusUnauthorized}, resp.StatusCode)

	resp = login(t, app, "admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = login(t, app, "admin", "pass")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+body.Token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(rest.RequestIDHeader))
}

func TestPresignedDownloadSkipsAuth(t *testing.T) {
	app := newAuthApp(t)
	app.Get("/files/tempdownload", func(c fiber.Ctx) error { return c.SendString(c.Query("presigned")) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/files/tempdownload?presigned=abc", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorsAreJSON(t *testing.T) {
	app := rest.New(&config.Config{MaxChunkMegabytes: 1, MaxUploadMegabytes: 1})
	app.Get("/conflict", func(c fiber.Ctx) error {
		return fiber.NewError(fiber.StatusConflict, "busy")
	})

	req := httptest.NewRequest(http.MethodGet, "/conflict", nil)
	req.Header.Set(rest.RequestIDHeader, "req-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get(rest.RequestIDHeader))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "busy", body["error"])
}
