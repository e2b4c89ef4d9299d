package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/asset"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/config"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/logger"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
)

// AssetResponse is returned after a successful upload.
type AssetResponse struct {
	ID string `json:"_id"`
}

// SuccessResponse acknowledges an update or delete.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the body echo renders for an HTTPError.
type ErrorResponse struct {
	Message string `json:"message"`
}

// AssetErrorResponse is the not-found body of the asset endpoints.
type AssetErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AssetQueryRequest is the body of GET /asset/query. The same fields may be sent
// as query parameters, with search JSON-encoded.
type AssetQueryRequest struct {
	Search   map[string]any    `json:"search"`
	Populate map[string]string `json:"populate,omitempty"`
	Sort     json.RawMessage   `json:"sort,omitempty" swaggertype:"object"`
	Limit    int               `json:"limit,omitempty"`
	Skip     int               `json:"skip,omitempty"`
}

type AssetHandler struct {
	service        *asset.Service
	uploader       *asset.Uploader
	uploadDir      string
	maxUploadBytes int64
	uploads        *rate.Limiter
	logger         *slog.Logger
}

func NewAssetHandler(log *slog.Logger, service *asset.Service, uploader *asset.Uploader, cfg config.AssetsConfig) *AssetHandler {
	if log == nil {
		log = slog.Default()
	}
	uploadDir := strings.TrimSpace(cfg.UploadDir)
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	h := &AssetHandler{
		service:        service,
		uploader:       uploader,
		uploadDir:      uploadDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         log.With(slog.String("handler", "asset")),
	}
	if cfg.UploadRate > 0 {
		h.uploads = rate.NewLimiter(rate.Limit(cfg.UploadRate), max(cfg.UploadBurst, 1))
	}
	return h
}

func (h *AssetHandler) Register(e *echo.Echo) {
	group := e.Group("/asset")
	group.POST("", h.Upload)
	group.GET("/query", h.Query)
	group.GET("/serve/:id", h.Serve)
	group.GET("/thumb/:id", h.Thumbnail)
	group.GET("/:id", h.Get)
	group.PUT("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
	e.GET("/shared/asset/:id", h.ServeShared)
}

// Upload godoc
// @Summary Upload an asset
// @Description Stores a file, or extracts and stores a package archive, and records it.
// @Description Browsers sending Accept: text/html receive the JSON body as text/html.
// @Tags assets
// @Accept multipart/form-data
// @Param file formData file true "Asset file"
// @Param title formData string false "Title"
// @Param description formData string false "Description"
// @Param repository formData string false "Storage repository"
// @Param tags formData string false "Comma separated tag ids"
// @Success 200 {object} AssetResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /asset [post]
func (h *AssetHandler) Upload(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	if h.uploads != nil && !h.uploads.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "upload rate exceeded")
	}
	req := c.Request()
	if h.maxUploadBytes > 0 {
		req.Body = http.MaxBytesReader(c.Response(), req.Body, h.maxUploadBytes)
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload too large")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if req.MultipartForm != nil {
		defer func() {
			_ = req.MultipartForm.RemoveAll()
		}()
	}
	staged, err := h.stage(fileHeader)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer func() {
		if err := os.Remove(staged.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Ctx(c.Request().Context(), h.logger).Warn("remove staged upload failed", slog.String("path", staged.Path), slog.Any("error", err))
		}
	}()

	created, err := h.uploader.Upload(req.Context(), asset.UploadInput{
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Repository:  c.FormValue("repository"),
		Tags:        asset.ParseTags(c.FormValue("tags")),
		File:        staged,
	}, user)
	if err != nil {
		return assetError(c, err, "asset not found")
	}
	return respondLegacy(c, http.StatusOK, AssetResponse{ID: created.ID})
}

// stage copies an uploaded part to a file under uploadDir, keeping its extension.
func (h *AssetHandler) stage(fh *multipart.FileHeader) (asset.UploadedFile, error) {
	src, err := fh.Open()
	if err != nil {
		return asset.UploadedFile{}, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return asset.UploadedFile{}, fmt.Errorf("create upload dir: %w", err)
	}
	name := filepath.Base(filepath.Clean("/" + fh.Filename))
	dst, err := os.CreateTemp(h.uploadDir, "upload-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return asset.UploadedFile{}, fmt.Errorf("stage upload: %w", err)
	}
	n, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return asset.UploadedFile{}, fmt.Errorf("stage upload: %w", err)
	}
	return asset.UploadedFile{
		Name:     name,
		Path:     dst.Name(),
		Size:     n,
		MimeType: fh.Header.Get(echo.HeaderContentType),
	}, nil
}

// Query godoc
// @Summary Search assets
// @Description Search values that are strings match case-insensitively as substrings and are OR-ed;
// @Description all other values must match exactly.
// @Tags assets
// @Param payload body AssetQueryRequest false "Search and options"
// @Success 200 {array} asset.Asset
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} AssetErrorResponse
// @Router /asset/query [get]
func (h *AssetHandler) Query(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	req, err := parseQueryRequest(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sortFields, err := parseSort(req.Sort)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	results, err := h.service.Retrieve(c.Request().Context(), asset.BuildSearchQuery(req.Search), records.Options{
		Populate: req.Populate,
		Sort:     sortFields,
		Limit:    req.Limit,
		Skip:     req.Skip,
	}, user)
	if err != nil {
		return assetError(c, err, "assets not found")
	}
	if len(results) == 0 {
		return c.JSON(http.StatusNotFound, AssetErrorResponse{Message: "assets not found"})
	}
	return c.JSON(http.StatusOK, results)
}

func parseQueryRequest(c echo.Context) (AssetQueryRequest, error) {
	var req AssetQueryRequest
	httpReq := c.Request()
	if httpReq.ContentLength != 0 && httpReq.Body != nil && httpReq.Body != http.NoBody {
		if err := json.NewDecoder(httpReq.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("invalid query body: %w", err)
		}
	}
	if raw := c.QueryParam("search"); raw != "" && req.Search == nil {
		if err := json.Unmarshal([]byte(raw), &req.Search); err != nil {
			return req, fmt.Errorf("search must be a JSON object: %w", err)
		}
	}
	if raw := c.QueryParam("sort"); raw != "" && len(req.Sort) == 0 {
		encoded, _ := json.Marshal(raw)
		req.Sort = encoded
	}
	for name, dst := range map[string]*int{"limit": &req.Limit, "skip": &req.Skip} {
		raw := c.QueryParam(name)
		if raw == "" || *dst != 0 {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return req, fmt.Errorf("%s must be a non-negative integer", name)
		}
		*dst = n
	}
	if req.Limit < 0 || req.Skip < 0 {
		return req, fmt.Errorf("limit and skip must not be negative")
	}
	return req, nil
}

// parseSort accepts "title,-size", ["title","-size"] or {"title":1,"size":-1}.
func parseSort(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		var fields []string
		for _, f := range strings.Split(text, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		return fields, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("sort must be a string, list or object")
	}
	var fields []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid sort: %w", err)
		}
		field, _ := tok.(string)
		var dir float64
		if err := dec.Decode(&dir); err != nil {
			return nil, fmt.Errorf("invalid sort direction for %s", field)
		}
		if dir < 0 {
			field = "-" + field
		}
		fields = append(fields, field)
	}
	return fields, nil
}

// Get godoc
// @Summary Get an asset
// @Tags assets
// @Param id path string true "Asset ID"
// @Success 200 {object} asset.Asset
// @Failure 404 {object} AssetErrorResponse
// @Router /asset/{id} [get]
func (h *AssetHandler) Get(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	results, err := h.service.Retrieve(c.Request().Context(), records.ByID(c.Param("id")), records.Options{}, user)
	if err != nil {
		return assetError(c, err, "asset not found")
	}
	if len(results) != 1 {
		return c.JSON(http.StatusNotFound, AssetErrorResponse{Message: "asset not found"})
	}
	return c.JSON(http.StatusOK, results[0])
}

// Update godoc
// @Summary Update asset metadata
// @Description Only title, description and tags can change.
// @Tags assets
// @Param id path string true "Asset ID"
// @Param payload body asset.Delta true "Changes"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /asset/{id} [put]
func (h *AssetHandler) Update(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var delta asset.Delta
	if err := json.NewDecoder(c.Request().Body).Decode(&delta); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	delta.UpdatedAt = nil
	if err := h.service.Update(c.Request().Context(), c.Param("id"), delta, user); err != nil {
		return assetError(c, err, "asset not found")
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// Delete godoc
// @Summary Delete an asset
// @Tags assets
// @Param id path string true "Asset ID"
// @Success 200 {object} SuccessResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} AssetErrorResponse
// @Router /asset/{id} [delete]
func (h *AssetHandler) Delete(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	if err := h.service.Destroy(c.Request().Context(), c.Param("id"), user); err != nil {
		return assetError(c, err, "asset not found")
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// Serve godoc
// @Summary Stream asset bytes
// @Tags assets
// @Param id path string true "Asset ID"
// @Success 200 {file} binary
// @Failure 404 {object} AssetErrorResponse
// @Router /asset/serve/{id} [get]
func (h *AssetHandler) Serve(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	dl, err := h.service.Open(c.Request().Context(), c.Param("id"), user)
	if err != nil {
		return assetError(c, err, "asset not found")
	}
	return h.stream(c, dl, true)
}

// Thumbnail godoc
// @Summary Stream an asset thumbnail
// @Tags assets
// @Param id path string true "Asset ID"
// @Success 200 {file} binary
// @Failure 404 {object} AssetErrorResponse
// @Router /asset/thumb/{id} [get]
func (h *AssetHandler) Thumbnail(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	dl, err := h.service.OpenThumbnail(c.Request().Context(), c.Param("id"), user)
	if err != nil {
		return assetError(c, err, "asset not found")
	}
	return h.stream(c, dl, false)
}

// ServeShared godoc
// @Summary Stream an asset from the master scope
// @Tags assets
// @Param id path string true "Asset ID"
// @Success 200 {file} binary
// @Failure 404 {object} AssetErrorResponse
// @Router /shared/asset/{id} [get]
func (h *AssetHandler) ServeShared(c echo.Context) error {
	dl, err := h.service.OpenShared(c.Request().Context(), c.Param("id"))
	if err != nil {
		return assetError(c, err, "asset not found")
	}
	return h.stream(c, dl, true)
}

func (h *AssetHandler) stream(c echo.Context, dl asset.Download, headers bool) error {
	defer func() {
		_ = dl.Reader.Close()
	}()
	res := c.Response()
	if headers {
		if dl.MimeType != "" {
			res.Header().Set(echo.HeaderContentType, dl.MimeType)
		}
		if dl.Size > 0 {
			res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(dl.Size, 10))
		}
	}
	res.WriteHeader(http.StatusOK)
	if _, err := io.Copy(res, dl.Reader); err != nil {
		logger.Ctx(c.Request().Context(), h.logger).Warn("stream asset interrupted", slog.String("path", c.Request().URL.Path), slog.Any("error", err))
	}
	return nil
}

// respondLegacy serves JSON, or indented JSON labelled text/html for legacy browser uploads.
func respondLegacy(c echo.Context, status int, payload any) error {
	if !strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextHTML) {
		return c.JSON(status, payload)
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(status, echo.MIMETextHTMLCharsetUTF8, body)
}

func assetError(c echo.Context, err error, notFound string) error {
	switch {
	case errors.Is(err, asset.ErrNotFound):
		return c.JSON(http.StatusNotFound, AssetErrorResponse{Message: notFound})
	case errors.Is(err, asset.ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, asset.ErrMalformedInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, asset.ErrTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
