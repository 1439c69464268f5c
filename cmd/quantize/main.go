// Command quantize 将深度栅格导出为分层轮廓及诊断图
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TIANLI0/BathyLayer/config"
	"github.com/TIANLI0/BathyLayer/service"
	"github.com/TIANLI0/BathyLayer/utils"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config; built-in defaults when empty.")
		input      = flag.String("input", "", "Path to a GIS ASCII grid or GeoTIFF/TIFF file.")
		dir        = flag.String("dir", "", "Process every recognized bathymetry file under this directory.")
		output     = flag.String("output", "", "Output directory (default: export.output_dir/<input name>).")
		layer      = flag.Int("layer", -1, "Export a single layer index only; errors are fatal.")
		mode       = flag.String("mode", "debug", "Log mode: debug or release.")
	)

	// 流水线参数的默认值来自配置文件，需在解析其余参数前读取
	base := loadConfig(lookupArg(os.Args[1:], "config"))
	p := base.Pipeline
	flag.Float64Var(&p.CellSizeM, "cell_size_m", p.CellSizeM, "The resolution of x,y readings in m.")
	flag.Float64Var(&p.DepthUnitM, "depth_unit_m", p.DepthUnitM, "The resolution of z readings in m.")
	flag.Float64Var(&p.DepthMinM, "depth_min_m", p.DepthMinM, "Min depth in meters, values will be clipped.")
	flag.Float64Var(&p.DepthMaxM, "depth_max_m", p.DepthMaxM, "If > 0, max depth in meters, values will be clipped.")
	flag.Float64Var(&p.MaxZScore, "max_z_score", p.MaxZScore, "The max z-score, beyond which data is clipped.")
	flag.IntVar(&p.Levels, "levels", p.Levels, "Number of evenly spaced depth levels including depth 0.")
	flag.Float64Var(&p.QuantizeDepthStartM, "quantize_depth_start_m", p.QuantizeDepthStartM, "Depth of the first non-zero level.")
	flag.IntVar(&p.ScaleUpFactor, "scale_up_factor", p.ScaleUpFactor, "Scale up factor (multiple of 2) used when smoothing.")
	flag.BoolVar(&p.ForceFirstLayer, "force_first_layer", p.ForceFirstLayer, "Include all depth > 0 in the first layer.")
	flag.Float64Var(&p.SimplifyTolerance, "simplify_tolerance", p.SimplifyTolerance, "Polygon simplification tolerance (normalized units).")
	flag.Float64Var(&p.MinShapeArea, "min_shape_area", p.MinShapeArea, "Drop shapes and holes smaller than this normalized area.")
	flag.Parse()

	if err := utils.InitLogger(*mode); err != nil {
		os.Exit(1)
	}
	defer utils.Sync()
	utils.Logger.Debug("configuration", zap.String("config", *configPath), zap.Any("pipeline", p))

	var inputs []string
	switch {
	case *input != "":
		inputs = []string{*input}
	case *dir != "":
		files, err := service.ListBathymetryFiles(*dir)
		if err != nil {
			utils.Logger.Fatal("failed to list bathymetry files", zap.Error(err))
		}
		inputs = files
	default:
		flag.Usage()
		os.Exit(2)
	}

	bathy := service.NewBathymetryService(&p, &base.Export)
	ctx := context.Background()

	failed := 0
	for _, path := range inputs {
		outDir := *output
		if outDir == "" || len(inputs) > 1 {
			outDir = filepath.Join(base.Export.OutputDir, runName(path))
		}

		var err error
		if *layer >= 0 {
			err = exportSingleLayer(ctx, bathy, path, *layer, outDir, p)
		} else {
			err = exportAll(ctx, bathy, path, outDir, p)
		}
		if err != nil {
			failed++
			utils.Logger.Error("export failed", zap.String("input", path), zap.Error(err))
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s, using defaults: %v\n", path, err)
		return config.Default()
	}
	return cfg
}

// lookupArg 在 flag.Parse 之前查找 -name value 或 -name=value
func lookupArg(args []string, name string) string {
	for i, arg := range args {
		trimmed := strings.TrimLeft(arg, "-")
		if trimmed == arg {
			continue
		}
		if v, ok := strings.CutPrefix(trimmed, name+"="); ok {
			return v
		}
		if trimmed == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func exportAll(ctx context.Context, bathy *service.BathymetryService, path, outDir string, p config.PipelineConfig) error {
	result, err := bathy.Export(ctx, path, outDir, p)
	if err != nil {
		return err
	}

	files, err := service.ListLayerFiles(filepath.Join(outDir, "layer_masks"))
	if err != nil {
		return err
	}
	if err := service.VerifyExport(result.Layers, files); err != nil {
		return err
	}

	utils.Logger.Info("export complete",
		zap.String("output", outDir),
		zap.Float64s("thresholds_m", result.Thresholds),
		zap.Int("layer_files", len(files)))
	return nil
}

func exportSingleLayer(ctx context.Context, bathy *service.BathymetryService, path string, layer int, outDir string, p config.PipelineConfig) error {
	prep, err := bathy.Prepare(path, p)
	if err != nil {
		return err
	}
	l, err := bathy.ExportLayer(ctx, prep, layer, filepath.Join(outDir, "layer_masks"), p)
	if err != nil {
		return err
	}
	utils.Logger.Info("layer exported",
		zap.Int("layer", l.Index),
		zap.Float64("depth_m", l.DepthM),
		zap.Int("shapes", len(l.Shapes)))
	return nil
}

// runName 由输入文件名生成输出目录名
func runName(path string) string {
	name := filepath.Base(path)
	for filepath.Ext(name) != "" {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return utils.RunDirName(name)
}
