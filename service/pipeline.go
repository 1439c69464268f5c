package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/TIANLI0/BathyLayer/config"
	"github.com/TIANLI0/BathyLayer/model"
	"github.com/TIANLI0/BathyLayer/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const layerMasksDir = "layer_masks"

// BathymetryService 负责深度栅格的量化分层处理
type BathymetryService struct {
	semaphore     chan struct{}
	queueTimeout  time.Duration
	workers       int
	diagnostics   bool
	maskProcessor *MaskProcessor
	exporter      *ShapeExporter
}

func NewBathymetryService(cfg *config.PipelineConfig, export *config.ExportConfig) *BathymetryService {
	return &BathymetryService{
		semaphore:     make(chan struct{}, max(cfg.MaxConcurrent, 1)),
		queueTimeout:  time.Duration(cfg.QueueTimeout) * time.Second,
		workers:       max(export.Workers, 1),
		diagnostics:   export.Diagnostics,
		maskProcessor: NewMaskProcessor(),
		exporter:      NewShapeExporter(),
	}
}

// PreparedGrid 归一化和量化后的网格，构造后只读
type PreparedGrid struct {
	Depth *DepthGrid
	Quant *QuantizeResult
}

// layerOutput 单个图层的中间结果
type layerOutput struct {
	mask     *LayerMask
	smoothed *LayerMask
	contours *ContourResult
}

// acquire 并发控制，排队超时返回 ErrBusy
func (s *BathymetryService) acquire(ctx context.Context) (func(), error) {
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		return func() { <-s.semaphore }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}
}

// Prepare 读取、归一化并量化深度栅格
func (s *BathymetryService) Prepare(path string, p config.PipelineConfig) (*PreparedGrid, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	raw, err := LoadGrid(path)
	if err != nil {
		return nil, err
	}

	depth, err := Normalize(raw, p)
	if err != nil {
		return nil, err
	}

	quant, err := Quantize(depth, p.Levels, p.QuantizeDepthStartM)
	if err != nil {
		return nil, err
	}

	return &PreparedGrid{Depth: depth, Quant: quant}, nil
}

// processLayer 掩码、平滑、轮廓提取
func (s *BathymetryService) processLayer(prep *PreparedGrid, layer int, p config.PipelineConfig) (*layerOutput, error) {
	mask, err := s.maskProcessor.LayerMask(prep.Quant, layer, p.ForceFirstLayer)
	if err != nil {
		return nil, err
	}

	smoothed, err := s.maskProcessor.Smooth(mask, p.ScaleUpFactor)
	if err != nil {
		return nil, fmt.Errorf("smooth layer %d: %w", layer, err)
	}

	contours, err := NewContourExtractor(p.MinShapeArea).Extract(smoothed, p.SimplifyTolerance)
	if err != nil {
		return nil, fmt.Errorf("extract contours for layer %d: %w", layer, err)
	}

	return &layerOutput{mask: mask, smoothed: smoothed, contours: contours}, nil
}

// runLayers 按图层处理，单层失败记录在该层的 Error 中并继续处理其余图层
func (s *BathymetryService) runLayers(ctx context.Context, prep *PreparedGrid, p config.PipelineConfig,
	sink func(layer int, out *layerOutput) error) ([]model.Layer, error) {
	layers := make([]model.Layer, prep.Quant.LayerCount())

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range layers {
		layer := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			result := model.Layer{
				Index:  layer,
				DepthM: prep.Quant.LayerDepth(layer),
				Shapes: []model.Shape{},
			}

			out, err := s.processLayer(prep, layer, p)
			if err == nil && sink != nil {
				err = sink(layer, out)
			}
			if err != nil {
				utils.Logger.Warn("layer skipped",
					zap.Int("layer", layer),
					zap.Error(err))
				result.Error = err.Error()
			} else {
				result.Shapes = out.contours.Shapes
				utils.Logger.Debug("layer processed",
					zap.Int("layer", layer),
					zap.Float64("depth_m", result.DepthM),
					zap.Int("shapes", len(result.Shapes)),
					zap.Duration("duration", time.Since(start)))
			}

			layers[layer] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return layers, nil
}

// Process 处理栅格并返回内存中的分层结果
func (s *BathymetryService) Process(ctx context.Context, path string, md5 string, p config.PipelineConfig) (*model.LayerResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	startTime := time.Now()

	prep, err := s.Prepare(path, p)
	if err != nil {
		return nil, err
	}

	layers, err := s.runLayers(ctx, prep, p, nil)
	if err != nil {
		return nil, err
	}

	result := newLayerResult(md5, prep, layers, startTime)

	utils.Logger.Info("grid processed successfully",
		zap.String("md5", md5),
		zap.Int("layers", len(layers)),
		zap.Duration("duration", time.Since(startTime)))

	return result, nil
}

// Export 处理栅格并写出全部产物，单层失败不影响其他图层
func (s *BathymetryService) Export(ctx context.Context, path string, outDir string, p config.PipelineConfig) (*model.LayerResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	startTime := time.Now()

	prep, err := s.Prepare(path, p)
	if err != nil {
		return nil, err
	}

	if err := s.writeRunArtifacts(outDir, prep, p); err != nil {
		return nil, err
	}

	layersDir := filepath.Join(outDir, layerMasksDir)
	if err := ensureDir(layersDir); err != nil {
		return nil, err
	}

	layers, err := s.runLayers(ctx, prep, p, func(layer int, out *layerOutput) error {
		return s.writeLayer(layersDir, layer, out)
	})
	if err != nil {
		return nil, err
	}

	md5, err := utils.FileMD5(path)
	if err != nil {
		utils.Logger.Warn("failed to calculate md5", zap.Error(err))
	}
	result := newLayerResult(md5, prep, layers, startTime)

	utils.Logger.Info("grid exported",
		zap.String("input", path),
		zap.String("output", outDir),
		zap.Int("layers", len(layers)),
		zap.Duration("duration", time.Since(startTime)))

	return result, nil
}

// ExportLayer 单独处理并写出一个图层，错误直接返回
func (s *BathymetryService) ExportLayer(ctx context.Context, prep *PreparedGrid, layer int, outDir string, p config.PipelineConfig) (*model.Layer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ensureDir(outDir); err != nil {
		return nil, err
	}

	out, err := s.processLayer(prep, layer, p)
	if err != nil {
		return nil, err
	}
	if err := s.writeLayer(outDir, layer, out); err != nil {
		return nil, err
	}

	return &model.Layer{
		Index:  layer,
		DepthM: prep.Quant.LayerDepth(layer),
		Shapes: out.contours.Shapes,
	}, nil
}

// writeRunArtifacts 写出与图层无关的产物
func (s *BathymetryService) writeRunArtifacts(outDir string, prep *PreparedGrid, p config.PipelineConfig) error {
	if err := ensureDir(outDir); err != nil {
		return err
	}

	if err := s.exporter.WriteRunConfig(filepath.Join(outDir, "run_config.json"), p); err != nil {
		return err
	}
	if err := s.exporter.WriteThresholds(filepath.Join(outDir, "quantized_depth_values.json"), prep.Quant.Thresholds); err != nil {
		return err
	}
	if err := s.exporter.WriteGray(filepath.Join(outDir, "depth_map_quantized.png"),
		prep.Quant.Image, prep.Quant.Grid.Rows, prep.Quant.Grid.Cols); err != nil {
		return err
	}

	if !s.diagnostics {
		return nil
	}
	if err := s.exporter.WriteDepthImage(filepath.Join(outDir, "depth_map_raw.png"), prep.Depth); err != nil {
		return err
	}
	if err := s.exporter.WriteHistogram(filepath.Join(outDir, "histogram.png"), prep.Depth); err != nil {
		return err
	}
	if err := s.exporter.WriteHeatMap(filepath.Join(outDir, "depth_map_raw_plot.png"),
		fmt.Sprintf("Depth Map (max %.1f m)", prep.Depth.Max()), prep.Depth, p.CellSizeM, rawHeatColors); err != nil {
		return err
	}
	return s.exporter.WriteHeatMap(filepath.Join(outDir, "depth_map_quantized_plot.png"),
		QuantizedHeatMapTitle(prep.Quant.Thresholds), prep.Quant.Grid, p.CellSizeM, len(prep.Quant.Thresholds))
}

// writeLayer 写出单个图层的轮廓 JSON 及诊断图
func (s *BathymetryService) writeLayer(dir string, layer int, out *layerOutput) error {
	if err := s.exporter.WriteShapes(layerPath(dir, layer, contoursSuffix), out.contours.Shapes); err != nil {
		return err
	}
	if !s.diagnostics {
		return nil
	}

	if err := s.exporter.WriteMask(layerPath(dir, layer, ".jpg"), out.mask, false); err != nil {
		return err
	}
	if err := s.exporter.WriteMask(layerPath(dir, layer, "_smoothed.jpg"), out.smoothed, true); err != nil {
		return err
	}
	if err := s.exporter.WritePolyPlot(layerPath(dir, layer, "_contours_viz.png"), out.contours.Shapes,
		fmt.Sprintf("Layer %d", layer)); err != nil {
		return err
	}
	if err := s.exporter.WriteContourOverlay(layerPath(dir, layer, "_contours.jpg"), out.contours); err != nil {
		return err
	}
	return s.exporter.WriteSVG(layerPath(dir, layer, "_contours.svg"), out.contours.Shapes)
}

func newLayerResult(md5 string, prep *PreparedGrid, layers []model.Layer, startTime time.Time) *model.LayerResult {
	return &model.LayerResult{
		MD5:         md5,
		Width:       prep.Quant.Grid.Cols,
		Height:      prep.Quant.Grid.Rows,
		MaxDepthM:   prep.Quant.MaxDepthM,
		Thresholds:  prep.Quant.Thresholds,
		Layers:      layers,
		Timestamp:   time.Now().Unix(),
		ElapsedMsec: time.Since(startTime).Milliseconds(),
	}
}
