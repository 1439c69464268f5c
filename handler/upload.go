package handler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TIANLI0/BathyLayer/config"
	"github.com/TIANLI0/BathyLayer/model"
	"github.com/TIANLI0/BathyLayer/service"
	"github.com/TIANLI0/BathyLayer/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UploadHandler struct {
	cfg          *config.Config
	redisService *service.RedisService
	bathyService *service.BathymetryService
}

func NewUploadHandler(cfg *config.Config, redis *service.RedisService, bathy *service.BathymetryService) *UploadHandler {
	return &UploadHandler{
		cfg:          cfg,
		redisService: redis,
		bathyService: bathy,
	}
}

// Upload 上传深度栅格并返回量化分层结果
func (h *UploadHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("raster")
	if err != nil {
		utils.Logger.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传深度栅格文件",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型
	format, err := service.DetectFormat(file.Filename)
	if err != nil || !h.isAllowedExtension(file.Filename) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型，仅支持 ASCII 网格/GeoTIFF/TIFF",
		})
		return
	}

	params, err := parsePipelineParams(c, h.cfg.Pipeline)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "参数错误",
			Error:   err.Error(),
		})
		return
	}

	// 保留格式后缀，例如 .geo.tif
	filename := fmt.Sprintf("%d%s", utils.GenerateID(), format.Extension())
	savePath := filepath.Join(h.cfg.Upload.UploadDir, filename)

	if err := c.SaveUploadedFile(file, savePath); err != nil {
		utils.Logger.Error("failed to save file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "保存文件失败",
			Error:   err.Error(),
		})
		return
	}

	if h.cfg.Upload.CleanupTempFiles {
		defer func() {
			if err := os.Remove(savePath); err != nil {
				utils.Logger.Warn("failed to delete temp file",
					zap.String("file", savePath),
					zap.Error(err))
			}
		}()
	}

	md5, err := utils.FileMD5(savePath)
	if err != nil {
		utils.Logger.Error("failed to calculate md5", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "计算文件哈希失败",
			Error:   err.Error(),
		})
		return
	}

	cacheKey, err := cacheKeyFor(md5, params, h.cfg.Pipeline)
	if err != nil {
		utils.Logger.Warn("failed to hash params", zap.Error(err))
		cacheKey = md5
	}

	utils.Logger.Info("file uploaded",
		zap.String("filename", filename),
		zap.String("md5", md5),
		zap.String("cache_key", cacheKey),
		zap.Int64("size", file.Size))

	ctx := c.Request.Context()
	cachedResult, err := h.redisService.GetLayerResult(ctx, cacheKey)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
	}
	if cachedResult != nil {
		utils.Logger.Info("cache hit", zap.String("cache_key", cacheKey))
		c.JSON(http.StatusOK, model.UploadResponse{
			Success: true,
			Message: "处理成功（来自缓存）",
			Data:    cachedResult,
		})
		return
	}

	result, err := h.bathyService.Process(ctx, savePath, md5, params)
	if err != nil {
		utils.Logger.Error("failed to process grid", zap.Error(err))
		c.JSON(statusFor(err), model.ErrorResponse{
			Success: false,
			Message: "深度栅格处理失败",
			Error:   err.Error(),
		})
		return
	}
	result.CacheKey = cacheKey

	if err := h.redisService.SetLayerResult(ctx, cacheKey, result); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, model.UploadResponse{
		Success: true,
		Message: "处理成功",
		Data:    result,
	})
}

// GetByKey 根据缓存键获取分层结果
func (h *UploadHandler) GetByKey(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "缓存键参数缺失",
		})
		return
	}

	result, err := h.redisService.GetLayerResult(c.Request.Context(), key)
	if err != nil {
		utils.Logger.Error("failed to get layer result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "查询失败",
			Error:   err.Error(),
		})
		return
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该栅格的分层信息",
		})
		return
	}

	c.JSON(http.StatusOK, model.UploadResponse{
		Success: true,
		Message: "查询成功",
		Data:    result,
	})
}

func (h *UploadHandler) isAllowedExtension(name string) bool {
	ext := filepath.Ext(name)
	for _, allowed := range h.cfg.Upload.AllowedExtensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

// cacheKeyFor 默认参数使用文件 MD5，否则追加参数指纹
func cacheKeyFor(md5 string, params, defaults config.PipelineConfig) (string, error) {
	if params == defaults {
		return md5, nil
	}
	sum, err := utils.JSONMD5(params)
	if err != nil {
		return "", err
	}
	return md5 + ":" + sum[:8], nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnsupportedFormat),
		errors.Is(err, service.ErrDegenerateInput),
		errors.Is(err, service.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// parsePipelineParams 以表单字段覆盖默认流水线参数
func parsePipelineParams(c *gin.Context, base config.PipelineConfig) (config.PipelineConfig, error) {
	p := base

	floats := map[string]*float64{
		"cell_size_m":            &p.CellSizeM,
		"depth_unit_m":           &p.DepthUnitM,
		"depth_min_m":            &p.DepthMinM,
		"depth_max_m":            &p.DepthMaxM,
		"max_z_score":            &p.MaxZScore,
		"quantize_depth_start_m": &p.QuantizeDepthStartM,
		"simplify_tolerance":     &p.SimplifyTolerance,
		"min_shape_area":         &p.MinShapeArea,
	}
	for name, dst := range floats {
		raw, ok := c.GetPostForm(name)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return p, fmt.Errorf("%s: %w", name, err)
		}
		*dst = v
	}

	ints := map[string]*int{
		"levels":          &p.Levels,
		"scale_up_factor": &p.ScaleUpFactor,
	}
	for name, dst := range ints {
		raw, ok := c.GetPostForm(name)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return p, fmt.Errorf("%s: %w", name, err)
		}
		*dst = v
	}

	if raw, ok := c.GetPostForm("force_first_layer"); ok && raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return p, fmt.Errorf("force_first_layer: %w", err)
		}
		p.ForceFirstLayer = v
	}

	return p, p.Validate()
}
