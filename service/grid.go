package service

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DepthGrid 行优先存储的二维深度网格（米），第 0 行对应源文件第一条扫描线
type DepthGrid struct {
	Rows int
	Cols int
	Data []float64
}

func NewDepthGrid(rows, cols int) *DepthGrid {
	return &DepthGrid{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
	}
}

// NewDepthGridFromRows 由二维切片构造网格，要求每行长度一致
func NewDepthGridFromRows(rows [][]float64) *DepthGrid {
	if len(rows) == 0 {
		return NewDepthGrid(0, 0)
	}
	g := NewDepthGrid(len(rows), len(rows[0]))
	for r, row := range rows {
		copy(g.Data[r*g.Cols:(r+1)*g.Cols], row)
	}
	return g
}

func (g *DepthGrid) At(r, c int) float64 {
	return g.Data[r*g.Cols+c]
}

func (g *DepthGrid) Set(r, c int, v float64) {
	g.Data[r*g.Cols+c] = v
}

func (g *DepthGrid) Len() int {
	return len(g.Data)
}

func (g *DepthGrid) Empty() bool {
	return g == nil || len(g.Data) == 0
}

func (g *DepthGrid) Clone() *DepthGrid {
	out := NewDepthGrid(g.Rows, g.Cols)
	copy(out.Data, g.Data)
	return out
}

// MinMax 返回网格的最小值和最大值，空网格返回 (0, 0)
func (g *DepthGrid) MinMax() (float64, float64) {
	if g.Empty() {
		return 0, 0
	}
	return floats.Min(g.Data), floats.Max(g.Data)
}

func (g *DepthGrid) Max() float64 {
	_, hi := g.MinMax()
	return hi
}

func (g *DepthGrid) Min() float64 {
	lo, _ := g.MinMax()
	return lo
}

// Clip 将所有值限制在 [lo, hi] 区间内
func (g *DepthGrid) Clip(lo, hi float64) {
	for i, v := range g.Data {
		g.Data[i] = math.Min(math.Max(v, lo), hi)
	}
}
