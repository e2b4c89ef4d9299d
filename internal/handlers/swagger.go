package handlers

// @title Adapt Authoring Asset API
// @version 1.0.0
// @description Upload, query and serve course assets.
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/labstack/echo/v4"
)

//go:generate go run github.com/swaggo/swag/cmd/swag@latest init -g swagger.go -o ../../docs --parseDependency --parseInternal

// DefaultSwaggerPath is where swag writes the generated document, relative to the working directory.
const DefaultSwaggerPath = "docs/swagger.json"

// SwaggerHandler serves the generated OpenAPI document and a browser UI for it.
type SwaggerHandler struct {
	logger *slog.Logger
	load   func() ([]byte, error)
}

func NewSwaggerHandler(log *slog.Logger) *SwaggerHandler {
	return newSwaggerHandler(log, DefaultSwaggerPath)
}

func newSwaggerHandler(log *slog.Logger, specPath string) *SwaggerHandler {
	return &SwaggerHandler{
		logger: log.With(slog.String("handler", "swagger")),
		load: sync.OnceValues(func() ([]byte, error) {
			return os.ReadFile(specPath)
		}),
	}
}

func (h *SwaggerHandler) Register(e *echo.Echo) {
	e.GET("/api/swagger.json", h.Spec)
	e.GET("/api/docs", h.UI)
	e.GET("/api/docs/", h.UI)
}

// Spec returns the OpenAPI document, or 404 when it has not been generated.
func (h *SwaggerHandler) Spec(c echo.Context) error {
	spec, err := h.load()
	if errors.Is(err, fs.ErrNotExist) {
		return echo.NewHTTPError(http.StatusNotFound, "api document not generated; run go generate ./internal/handlers")
	}
	if err != nil {
		h.logger.Error("read api document failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "api document unavailable")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, spec)
}

func (h *SwaggerHandler) UI(c echo.Context) error {
	return c.HTML(http.StatusOK, swaggerUIHTML)
}

const swaggerUIHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Adapt authoring assets</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="api"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: "/api/swagger.json", dom_id: "#api", persistAuthorization: true });
  </script>
</body>
</html>`
