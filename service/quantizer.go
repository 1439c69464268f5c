package service

import (
	"fmt"
	"math"

	"github.com/TIANLI0/BathyLayer/utils"
	"go.uber.org/zap"
)

// minQuantizableNorm 8 位编码下可表示的最小非零归一化深度
const minQuantizableNorm = 1.0 / 255.0

// QuantizeResult 量化结果，网格与阈值取自同一离散集合
type QuantizeResult struct {
	// Grid 量化后的深度（米）
	Grid *DepthGrid
	// Image 量化后的 8 位编码，行优先
	Image []uint8
	// Thresholds 经 8 位往返后的阈值（米），首个元素恒为 0
	Thresholds     []float64
	ThresholdsNorm []float64
	MaxDepthM      float64
}

// LayerCount 输出的图层数量（不含 0 深度基线）
func (q *QuantizeResult) LayerCount() int {
	return len(q.Thresholds) - 1
}

// LayerDepth 第 layer 个图层对应的阈值深度
func (q *QuantizeResult) LayerDepth(layer int) float64 {
	return q.Thresholds[layer+1]
}

// NormalizedThresholds 计算归一化空间下的阈值：0 之后接 levels-1 个从起始深度到 1 的等间距值
func NormalizedThresholds(maxDepthM float64, levels int, quantizeDepthStartM float64) []float64 {
	start := math.Max(quantizeDepthStartM/maxDepthM, minQuantizableNorm)
	start = math.Min(start, 1)

	thresholds := make([]float64, 0, levels)
	thresholds = append(thresholds, 0)
	return append(thresholds, linspace(start, 1, levels-1)...)
}

// linspace 闭区间等间距采样，n == 1 时只返回起点
func linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// to8Bit 归一化值编码为 8 位
func to8Bit(norm float64) uint8 {
	return uint8(math.Round(255 * math.Min(math.Max(norm, 0), 1)))
}

// Quantize 将每个网格值替换为归一化空间中最近的阈值，并对阈值和网格做相同的 8 位往返
func Quantize(grid *DepthGrid, levels int, quantizeDepthStartM float64) (*QuantizeResult, error) {
	if grid.Empty() {
		return nil, fmt.Errorf("%w: empty grid", ErrDegenerateInput)
	}
	if levels < 2 {
		return nil, fmt.Errorf("%w: levels must be at least 2, got %d", ErrInvalidConfig, levels)
	}

	maxDepth := grid.Max()
	if !(maxDepth > 0) || math.IsInf(maxDepth, 0) {
		return nil, fmt.Errorf("%w: max depth is %g", ErrDegenerateInput, maxDepth)
	}

	norm := NormalizedThresholds(maxDepth, levels, quantizeDepthStartM)
	codes := make([]uint8, len(norm))
	thresholds := make([]float64, len(norm))
	for i, t := range norm {
		codes[i] = to8Bit(t)
		thresholds[i] = float64(codes[i]) / 255 * maxDepth
		if i > 0 && codes[i] <= codes[i-1] {
			return nil, fmt.Errorf("%w: thresholds %d and %d collapse in 8-bit encoding (levels=%d, start=%gm, max=%gm)",
				ErrInvalidConfig, i-1, i, levels, quantizeDepthStartM, maxDepth)
		}
	}

	result := &QuantizeResult{
		Grid:           NewDepthGrid(grid.Rows, grid.Cols),
		Image:          make([]uint8, grid.Len()),
		Thresholds:     thresholds,
		ThresholdsNorm: norm,
		MaxDepthM:      maxDepth,
	}
	for i, v := range grid.Data {
		k := nearestIndex(norm, v/maxDepth)
		result.Grid.Data[i] = thresholds[k]
		result.Image[i] = codes[k]
	}

	utils.Logger.Info("depth grid quantized",
		zap.Int("levels", levels),
		zap.Float64("max_depth_m", maxDepth),
		zap.Float64s("thresholds_m", thresholds))

	return result, nil
}

// nearestIndex 距离相等时取较小的下标
func nearestIndex(thresholds []float64, v float64) int {
	best := 0
	bestDist := math.Abs(v - thresholds[0])
	for k := 1; k < len(thresholds); k++ {
		if d := math.Abs(v - thresholds[k]); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}
