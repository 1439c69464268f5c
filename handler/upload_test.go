package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/TIANLI0/BathyLayer/config"
	"github.com/TIANLI0/BathyLayer/model"
	"github.com/TIANLI0/BathyLayer/service"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Upload.UploadDir = t.TempDir()
	cfg.Export.Diagnostics = false

	mr := miniredis.RunT(t)
	cfg.Redis.Addr = mr.Addr()
	redisService := service.NewRedisService(&cfg.Redis)
	t.Cleanup(func() { redisService.Close() })

	h := NewUploadHandler(cfg, redisService, service.NewBathymetryService(&cfg.Pipeline, &cfg.Export))

	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/quantize", h.Upload)
	api.GET("/layer/:key", h.GetByKey)
	return r, cfg
}

// bowlASCII 带 7 行表头的抛物面洼地 ASCII 网格
func bowlASCII(size int, depth float64) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "ncols %d\nnrows %d\nxllcorner 0\nyllcorner 0\ncellsize 1\nNODATA_value -9999\nunits m\n", size, size)
	center := float64(size-1) / 2
	radius := float64(size) / 3
	for r := 0; r < size; r++ {
		row := make([]string, size)
		for c := 0; c < size; c++ {
			v := 0.0
			if d := math.Hypot(float64(c)-center, float64(r)-center); d < radius {
				v = depth * (1 - d*d/(radius*radius))
			}
			row[c] = fmt.Sprintf("%.3f", v)
		}
		b.WriteString(strings.Join(row, " "))
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("raster", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quantize", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeUpload(t *testing.T, rec *httptest.ResponseRecorder) model.UploadResponse {
	t.Helper()
	var resp model.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestUploadAndCache(t *testing.T) {
	r, _ := newTestRouter(t)
	grid := bowlASCII(60, 8)
	fields := map[string]string{"levels": "4", "quantize_depth_start_m": "2"}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "survey.asc", grid, fields))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	first := decodeUpload(t, rec)
	require.True(t, first.Success)
	assert.Equal(t, "处理成功", first.Message)
	require.NotNil(t, first.Data)
	assert.Len(t, first.Data.Thresholds, 4)
	assert.Len(t, first.Data.Layers, 3)
	assert.True(t, strings.HasPrefix(first.Data.CacheKey, first.Data.MD5+":"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "copy.asc", grid, fields))
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeUpload(t, rec)
	assert.Equal(t, "处理成功（来自缓存）", second.Message)
	assert.Equal(t, first.Data.CacheKey, second.Data.CacheKey)
	assert.Equal(t, first.Data.Thresholds, second.Data.Thresholds)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/layer/"+first.Data.CacheKey, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	byKey := decodeUpload(t, rec)
	assert.Equal(t, first.Data.Layers, byKey.Data.Layers)
}

func TestUploadDefaultParamsUseFileHash(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "survey.asc", bowlASCII(40, 6), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeUpload(t, rec)
	assert.Equal(t, resp.Data.MD5, resp.Data.CacheKey)
}

func TestUploadRejects(t *testing.T) {
	r, cfg := newTestRouter(t)
	cfg.Upload.MaxSize = 1 << 20

	tests := []struct {
		name     string
		filename string
		content  []byte
		fields   map[string]string
		status   int
	}{
		{"missing file", "", nil, nil, http.StatusBadRequest},
		{"bad extension", "photo.png", []byte("png"), nil, http.StatusBadRequest},
		{"too large", "big.asc", make([]byte, 2<<20), nil, http.StatusBadRequest},
		{"bad levels", "survey.asc", bowlASCII(20, 4), map[string]string{"levels": "1"}, http.StatusBadRequest},
		{"non numeric", "survey.asc", bowlASCII(20, 4), map[string]string{"max_z_score": "abc"}, http.StatusBadRequest},
		{"flat grid", "flat.asc", bowlASCII(20, 0), nil, http.StatusBadRequest},
		{"garbage grid", "junk.asc", []byte("1\n2\n3\n4\n5\n6\n7\n1 2\n3\n"), nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, uploadRequest(t, tt.filename, tt.content, tt.fields))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp model.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
		})
	}
}

func TestGetByKeyNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/layer/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("x: %w", service.ErrUnsupportedFormat)))
	assert.Equal(t, http.StatusBadRequest, statusFor(service.ErrDegenerateInput))
	assert.Equal(t, http.StatusBadRequest, statusFor(service.ErrInvalidConfig))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(service.ErrBusy))
	assert.Equal(t, http.StatusInternalServerError, statusFor(service.ErrIO))
}

func TestCacheKeyFor(t *testing.T) {
	defaults := config.DefaultPipeline()

	key, err := cacheKeyFor("abc", defaults, defaults)
	require.NoError(t, err)
	assert.Equal(t, "abc", key)

	changed := defaults
	changed.Levels = 6
	key, err = cacheKeyFor("abc", changed, defaults)
	require.NoError(t, err)
	assert.Len(t, key, len("abc:")+8)

	again, err := cacheKeyFor("abc", changed, defaults)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}
