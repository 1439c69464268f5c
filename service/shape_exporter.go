package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/TIANLI0/BathyLayer/config"
	"github.com/TIANLI0/BathyLayer/model"
	svg "github.com/ajstarks/svgo"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	maxLegendLabels = 35
	svgCanvasSize   = 1000
	histogramBins   = 20
	rawHeatColors   = 64
)

var (
	outerContourColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	holeContourColor  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// ShapeExporter 负责写出图层多边形与诊断图像
type ShapeExporter struct{}

func NewShapeExporter() *ShapeExporter {
	return &ShapeExporter{}
}

// LayerFileName 图层轮廓 JSON 文件名，序号可被下游按首个整数解析
func LayerFileName(layer int, suffix string) string {
	return fmt.Sprintf("layer_%d%s", layer, suffix)
}

// WriteJSON 写出任意 JSON 文档
func (e *ShapeExporter) WriteJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}

	if err := json.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, path, err)
	}
	return nil
}

// WriteShapes 写出单个图层的多边形数组
func (e *ShapeExporter) WriteShapes(path string, shapes []model.Shape) error {
	if shapes == nil {
		shapes = []model.Shape{}
	}
	return e.WriteJSON(path, shapes)
}

// WriteThresholds 写出量化阈值（米）
func (e *ShapeExporter) WriteThresholds(path string, thresholds []float64) error {
	return e.WriteJSON(path, thresholds)
}

// WriteRunConfig 写出本次运行的流水线参数
func (e *ShapeExporter) WriteRunConfig(path string, cfg config.PipelineConfig) error {
	return e.WriteJSON(path, cfg)
}

// WriteGray 将行优先的 8 位灰度数据写为图片，格式由扩展名决定
func (e *ShapeExporter) WriteGray(path string, pix []byte, rows, cols int) error {
	if rows == 0 || cols == 0 {
		return fmt.Errorf("%w: refusing to write empty image %s", ErrDegenerateInput, path)
	}
	src, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8U, pix)
	if err != nil {
		return fmt.Errorf("failed to build image mat: %w", err)
	}
	img := src.Clone()
	src.Close()
	defer img.Close()

	if !gocv.IMWrite(path, img) {
		return fmt.Errorf("%w: failed to write image %s", ErrIO, path)
	}
	return nil
}

// WriteMask 写出掩码图片，invert 时陆地为白色
func (e *ShapeExporter) WriteMask(path string, mask *LayerMask, invert bool) error {
	pix := mask.Bytes()
	if invert {
		pix = mask.Inverted()
	}
	return e.WriteGray(path, pix, mask.Rows, mask.Cols)
}

// WriteDepthImage 写出归一化到 0-255 的深度图
func (e *ShapeExporter) WriteDepthImage(path string, grid *DepthGrid) error {
	hi := grid.Max()
	pix := make([]byte, grid.Len())
	if hi > 0 {
		for i, v := range grid.Data {
			pix[i] = to8Bit(v / hi)
		}
	}
	return e.WriteGray(path, pix, grid.Rows, grid.Cols)
}

// WriteContourOverlay 在掩码上绘制外轮廓（绿）与孔洞（红）
func (e *ShapeExporter) WriteContourOverlay(path string, cr *ContourResult) error {
	if cr.Rows == 0 || cr.Cols == 0 {
		return fmt.Errorf("%w: refusing to write empty overlay %s", ErrDegenerateInput, path)
	}
	src, err := gocv.NewMatFromBytes(cr.Rows, cr.Cols, gocv.MatTypeCV8U, cr.Binary)
	if err != nil {
		return fmt.Errorf("failed to build overlay mat: %w", err)
	}
	gray := src.Clone()
	src.Close()
	defer gray.Close()

	canvas := gocv.NewMat()
	defer canvas.Close()
	gocv.CvtColor(gray, &canvas, gocv.ColorGrayToBGR)

	var outer, holes [][]image.Point
	for _, c := range cr.Contours {
		if c.Parent == noParent {
			outer = append(outer, c.Points)
		} else {
			holes = append(holes, c.Points)
		}
	}
	drawContours(&canvas, outer, outerContourColor)
	drawContours(&canvas, holes, holeContourColor)

	if !gocv.IMWrite(path, canvas) {
		return fmt.Errorf("%w: failed to write overlay %s", ErrIO, path)
	}
	return nil
}

func drawContours(canvas *gocv.Mat, contours [][]image.Point, c color.RGBA) {
	if len(contours) == 0 {
		return
	}
	pv := gocv.NewPointsVectorFromPoints(contours)
	defer pv.Close()
	gocv.DrawContours(canvas, pv, -1, c, 3)
}

// WritePolyPlot 叠加绘制原始与简化后的顶点路径
func (e *ShapeExporter) WritePolyPlot(path string, shapes []model.Shape, title string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Legend.Top = true

	series := 0
	addPath := func(verts []model.Point, label string) error {
		pts := make(plotter.XYs, len(verts))
		for i, v := range verts {
			// 图像坐标 y 向下，绘图时翻转
			pts[i] = plotter.XY{X: v[0], Y: 1 - v[1]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(series)
		line.Width = vg.Points(1)
		p.Add(line)
		if series < maxLegendLabels {
			p.Legend.Add(fmt.Sprintf("%sx%d", label, len(verts)), line)
		}
		series++
		return nil
	}

	for i, s := range shapes {
		if err := addPath(s.Vertices, fmt.Sprintf("%d_orig", i)); err != nil {
			return err
		}
		if err := addPath(s.Simplified, fmt.Sprintf("%d_simp", i)); err != nil {
			return err
		}
		for j, h := range s.Holes {
			if err := addPath(h.Vertices, fmt.Sprintf("%d_%d_orig", i, j)); err != nil {
				return err
			}
			if err := addPath(h.Simplified, fmt.Sprintf("%d_%d_simp", i, j)); err != nil {
				return err
			}
		}
	}

	if err := p.Save(12*vg.Inch, 12*vg.Inch, path); err != nil {
		return fmt.Errorf("%w: save plot %s: %v", ErrIO, path, err)
	}
	return nil
}

// WriteSVG 以 even-odd 规则填充外轮廓，孔洞被挖空
func (e *ShapeExporter) WriteSVG(path string, shapes []model.Shape) error {
	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(svgCanvasSize, svgCanvasSize)
	for _, s := range shapes {
		var d strings.Builder
		writeSVGRing(&d, s.Simplified)
		for _, h := range s.Holes {
			writeSVGRing(&d, h.Simplified)
		}
		canvas.Path(d.String(), "fill:#1f4e79;fill-rule:evenodd;stroke:#0b2239;stroke-width:1")
	}
	canvas.End()

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	return nil
}

func writeSVGRing(d *strings.Builder, ring []model.Point) {
	for i, p := range ring {
		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		fmt.Fprintf(d, "%s%.2f %.2f ", cmd, p[0]*svgCanvasSize, p[1]*svgCanvasSize)
	}
	d.WriteString("Z ")
}

// WriteHistogram 深度直方图，标注均值、1-3 倍标准差与最大深度
func (e *ShapeExporter) WriteHistogram(path string, grid *DepthGrid) error {
	p := plot.New()
	p.Title.Text = "Depth Readings Histogram (m)"
	p.X.Label.Text = "Water depth (m)"
	p.Y.Label.Text = "# of depth readings"

	hist, err := plotter.NewHist(plotter.Values(grid.Data), histogramBins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	hist.FillColor = color.RGBA{R: 0, G: 191, B: 191, A: 255}
	p.Add(hist)

	peak := 0.0
	for _, b := range hist.Bins {
		peak = max(peak, b.Weight)
	}

	addMarker := func(x float64, c color.Color, label string) error {
		line, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: peak}})
		if err != nil {
			return err
		}
		line.Color = c
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add(label, line)
		return nil
	}

	mean, std := stat.PopMeanStdDev(grid.Data, nil)
	if err := addMarker(mean, color.Black, "mean"); err != nil {
		return err
	}
	for i := 1; i <= 3; i++ {
		if err := addMarker(mean+float64(i)*std, color.RGBA{R: 204, G: 204, A: 255}, fmt.Sprintf("%d std", i)); err != nil {
			return err
		}
	}
	if err := addMarker(grid.Max(), color.RGBA{R: 255, A: 255}, "Max Depth"); err != nil {
		return err
	}

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("%w: save histogram %s: %v", ErrIO, path, err)
	}
	return nil
}

// gridXYZ 将深度网格适配为 plotter.GridXYZ，第 0 行画在顶部
type gridXYZ struct {
	grid     *DepthGrid
	cellSize float64
}

func (g gridXYZ) Dims() (c, r int) { return g.grid.Cols, g.grid.Rows }
func (g gridXYZ) Z(c, r int) float64 {
	return g.grid.At(g.grid.Rows-1-r, c)
}
func (g gridXYZ) X(c int) float64 { return float64(c) * g.cellSize }
func (g gridXYZ) Y(r int) float64 { return float64(r) * g.cellSize }

// WriteHeatMap 深度热力图，colors 为色阶数
func (e *ShapeExporter) WriteHeatMap(path, title string, grid *DepthGrid, cellSizeM float64, colors int) error {
	if cellSizeM <= 0 {
		cellSizeM = 1
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = fmt.Sprintf("X (%g m)", cellSizeM)
	p.Y.Label.Text = fmt.Sprintf("Y (%g m)", cellSizeM)

	heat := plotter.NewHeatMap(gridXYZ{grid: grid, cellSize: cellSizeM}, palette.Heat(max(colors, 2), 1))
	p.Add(heat)

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("%w: save heat map %s: %v", ErrIO, path, err)
	}
	return nil
}

// QuantizedHeatMapTitle 量化热力图标题，列出全部阈值
func QuantizedHeatMapTitle(thresholds []float64) string {
	return fmt.Sprintf("Quantized Depth Map: %d depths %s m", len(thresholds), formatDepths(thresholds))
}

func formatDepths(depths []float64) string {
	parts := make([]string, len(depths))
	for i, d := range depths {
		parts[i] = fmt.Sprintf("%.1f", d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ensureDir 创建输出目录
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create dir %s: %v", ErrIO, dir, err)
	}
	return nil
}

// layerPath 图层产物路径
func layerPath(dir string, layer int, suffix string) string {
	return filepath.Join(dir, LayerFileName(layer, suffix))
}
