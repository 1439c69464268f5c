package service

import (
	"fmt"
	"math"

	"github.com/TIANLI0/BathyLayer/config"
	"github.com/TIANLI0/BathyLayer/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Normalize 单位换算、区间截断、基线归零以及 z-score 离群值截断
//
// 返回新的网格，输入不会被修改。输出所有值非负，且最小值恰为 0。
func Normalize(raw *DepthGrid, cfg config.PipelineConfig) (*DepthGrid, error) {
	if raw.Empty() {
		return nil, fmt.Errorf("%w: empty grid", ErrDegenerateInput)
	}

	grid := raw.Clone()
	floats.Scale(cfg.DepthUnitM, grid.Data)

	upper := math.Inf(1)
	if cfg.DepthMaxM > 0 {
		upper = cfg.DepthMaxM
	}
	grid.Clip(cfg.DepthMinM, upper)

	floats.AddConst(-grid.Min(), grid.Data)

	if cfg.MaxZScore > 0 && grid.Len() > 1 {
		mean, std := stat.MeanStdDev(grid.Data, nil)
		depthCap := mean + cfg.MaxZScore*std
		utils.Logger.Info("clipping depth outliers",
			zap.Float64("max_z_score", cfg.MaxZScore),
			zap.Float64("mean_m", mean),
			zap.Float64("stddev_m", std),
			zap.Float64("cap_m", depthCap))
		grid.Clip(0, depthCap)
	}

	return grid, nil
}
