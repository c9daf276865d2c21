package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	app := fiber.New()
	app.Use(requestid.New())
	app.Use(RequestLogger(logger))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/boom", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTeapot, "short and stout") })

	cases := []struct {
		path   string
		status int
		level  string
	}{
		{"/ok", 200, "info"},
		{"/boom", fiber.StatusTeapot, "warn"},
		{"/missing", 404, "warn"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			buf.Reset()
			resp, err := app.Test(httptest.NewRequest("GET", tc.path, nil))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}

			var line map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line); err != nil {
				t.Fatalf("log line %q: %v", buf.String(), err)
			}
			if line["level"] != tc.level || line["path"] != tc.path || int(line["status"].(float64)) != tc.status {
				t.Fatalf("log = %v", line)
			}
			if id, _ := line["request_id"].(string); id == "" || id != resp.Header.Get(fiber.HeaderXRequestID) {
				t.Fatalf("request_id = %v, header = %q", line["request_id"], resp.Header.Get(fiber.HeaderXRequestID))
			}
		})
	}
}
