package serverutils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type silentLogger struct{}

func (silentLogger) Debug(string, string, map[string]interface{}) {}
func (silentLogger) Info(string, string, map[string]interface{})  {}
func (silentLogger) Warn(string, string, map[string]interface{})  {}
func (silentLogger) Error(string, string, map[string]interface{}) {}
func (silentLogger) Sync() error                                  { return nil }

func TestErrorHandlerMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware(silentLogger{}))
	app.Get("/not-found", func(ctx *fiber.Ctx) error {
		return NewNotFoundError("Session not found")
	})
	app.Get("/boom", func(ctx *fiber.Ctx) error {
		return errors.New("inference provider: upstream 503")
	})

	t.Run("app error keeps its code and message", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/not-found", nil))
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "Session not found", body["error"])
	})

	t.Run("unexpected error becomes a generic 500", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
		require.NoError(t, err)
		assert.Equal(t, 500, resp.StatusCode)

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "upstream", "internal detail never reaches the client")

		var body map[string]string
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "Internal server error", body["error"])
	})
}
