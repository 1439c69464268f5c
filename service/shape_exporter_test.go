package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TIANLI0/BathyLayer/config"
	"github.com/TIANLI0/BathyLayer/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squareShape(x0, y0, x1, y1 float64, holes ...model.Hole) model.Shape {
	ring := []model.Point{{x0, y0}, {x0, y1}, {x1, y1}, {x1, y0}, {x0, y0}}
	if holes == nil {
		holes = []model.Hole{}
	}
	return model.Shape{Vertices: ring, Simplified: ring, Holes: holes}
}

func TestLayerFileName(t *testing.T) {
	assert.Equal(t, "layer_0_contours.json", LayerFileName(0, contoursSuffix))
	assert.Equal(t, "layer_12_smoothed.jpg", LayerFileName(12, "_smoothed.jpg"))
}

func TestWriteShapesSchema(t *testing.T) {
	dir := t.TempDir()
	e := NewShapeExporter()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, e.WriteShapes(empty, nil))
	data, err := os.ReadFile(empty)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))

	hole := model.Hole{
		Vertices:   []model.Point{{0.4, 0.4}, {0.4, 0.6}, {0.6, 0.6}, {0.4, 0.4}},
		Simplified: []model.Point{{0.4, 0.4}, {0.4, 0.6}, {0.6, 0.6}, {0.4, 0.4}},
	}
	path := filepath.Join(dir, "layer_0_contours.json")
	require.NoError(t, e.WriteShapes(path, []model.Shape{
		squareShape(0.1, 0.1, 0.9, 0.9, hole),
		squareShape(0.95, 0.95, 1, 1),
	}))

	data, err = os.ReadFile(path)
	require.NoError(t, err)

	var doc []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc, 2)
	for _, s := range doc {
		assert.Contains(t, s, "vertices")
		assert.Contains(t, s, "simplified")
		assert.Contains(t, s, "holes")
	}
	assert.JSONEq(t, "[]", string(doc[1]["holes"]))

	var pts [][2]float64
	require.NoError(t, json.Unmarshal(doc[0]["vertices"], &pts))
	assert.Equal(t, [2]float64{0.1, 0.1}, pts[0])
}

func TestWriteRunConfigOmitsServerKnobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_config.json")
	require.NoError(t, NewShapeExporter().WriteRunConfig(path, config.DefaultPipeline()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 4.0, doc["levels"])
	assert.Equal(t, true, doc["force_first_layer"])
	assert.NotContains(t, doc, "MaxConcurrent")
	assert.NotContains(t, doc, "QueueTimeout")
}

func TestWriteSVG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer_0_contours.svg")
	hole := model.Hole{Simplified: []model.Point{{0.4, 0.4}, {0.4, 0.6}, {0.6, 0.6}, {0.4, 0.4}}}
	require.NoError(t, NewShapeExporter().WriteSVG(path, []model.Shape{squareShape(0.1, 0.1, 0.9, 0.9, hole)}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	svg := string(data)
	assert.Contains(t, svg, "<svg")
	assert.Equal(t, 1, strings.Count(svg, "<path"))
	assert.Contains(t, svg, "fill-rule:evenodd")
	assert.Contains(t, svg, "M100.00 100.00")
	assert.Contains(t, svg, "M400.00 400.00")
}

func TestWriteDiagnostics(t *testing.T) {
	dir := t.TempDir()
	e := NewShapeExporter()

	grid := bowlGrid(40, 19.5, 19.5, 15, 8)
	q, err := Quantize(grid, 4, 1)
	require.NoError(t, err)

	mask := rectMask(40, 40, [4]int{5, 5, 34, 34}, [4]int{15, 15, 24, 24}, true)
	cr, err := NewContourExtractor(0).Extract(mask, 0.001)
	require.NoError(t, err)

	files := map[string]func(string) error{
		"depth_map_raw.png":       func(p string) error { return e.WriteDepthImage(p, grid) },
		"depth_map_quantized.png": func(p string) error { return e.WriteGray(p, q.Image, q.Grid.Rows, q.Grid.Cols) },
		"histogram.png":           func(p string) error { return e.WriteHistogram(p, grid) },
		"heatmap.png":             func(p string) error { return e.WriteHeatMap(p, QuantizedHeatMapTitle(q.Thresholds), q.Grid, 1, len(q.Thresholds)) },
		"raw_heatmap.png":         func(p string) error { return e.WriteHeatMap(p, "Depth Map", grid, 0.5, rawHeatColors) },
		"layer_0.jpg":             func(p string) error { return e.WriteMask(p, mask, false) },
		"layer_0_smoothed.jpg":    func(p string) error { return e.WriteMask(p, mask, true) },
		"layer_0_contours.jpg":    func(p string) error { return e.WriteContourOverlay(p, cr) },
		"layer_0_contours_viz.png": func(p string) error {
			return e.WritePolyPlot(p, cr.Shapes, "Layer 0")
		},
	}

	for name, write := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, write(path), name)
		info, err := os.Stat(path)
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

func TestWriteGrayRejectsEmpty(t *testing.T) {
	err := NewShapeExporter().WriteGray(filepath.Join(t.TempDir(), "x.png"), nil, 0, 0)
	assert.ErrorIs(t, err, ErrDegenerateInput)
}

func TestWritersReportIOFailure(t *testing.T) {
	e := NewShapeExporter()
	missing := filepath.Join(t.TempDir(), "missing", "layer_0")

	assert.ErrorIs(t, e.WriteShapes(missing+contoursSuffix, nil), ErrIO)
	assert.ErrorIs(t, e.WriteThresholds(missing+".json", []float64{0, 1}), ErrIO)
	assert.ErrorIs(t, e.WriteSVG(missing+"_contours.svg", []model.Shape{squareShape(0, 0, 1, 1)}), ErrIO)

	// 目标路径是目录
	dir := t.TempDir()
	assert.ErrorIs(t, e.WriteSVG(dir, nil), ErrIO)
	assert.ErrorIs(t, e.WriteJSON(dir, []float64{}), ErrIO)
}

func TestQuantizedHeatMapTitle(t *testing.T) {
	assert.Equal(t, "Quantized Depth Map: 3 depths [0.0, 2.5, 10.0] m", QuantizedHeatMapTitle([]float64{0, 2.5, 10}))
}
