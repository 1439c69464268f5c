package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/TIANLI0/BathyLayer/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touchLayers(t *testing.T, dir string, indices ...int) {
	t.Helper()
	for _, i := range indices {
		path := filepath.Join(dir, LayerFileName(i, contoursSuffix))
		require.NoError(t, os.WriteFile(path, []byte("[]"), 0644))
	}
}

func TestLayerIndexFromName(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"layer_0_contours.json", 0, false},
		{"layer_12_contours.json", 12, false},
		{"/tmp/run_1/layer_masks/layer_3_contours.json", 3, false},
		{"contours.json", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LayerIndexFromName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrLayerSequence)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListLayerFilesNumericOrder(t *testing.T) {
	dir := t.TempDir()
	touchLayers(t, dir, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)
	// 其他产物不参与排序
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layer_1.jpg"), nil, 0644))

	files, err := ListLayerFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 12)
	for i, f := range files {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, LayerFileName(i, contoursSuffix), filepath.Base(f.Path))
	}
}

func TestListLayerFilesRejectsGaps(t *testing.T) {
	t.Run("missing layer", func(t *testing.T) {
		dir := t.TempDir()
		touchLayers(t, dir, 0, 1, 3)
		_, err := ListLayerFiles(dir)
		assert.ErrorIs(t, err, ErrLayerSequence)
	})

	t.Run("not starting at zero", func(t *testing.T) {
		dir := t.TempDir()
		touchLayers(t, dir, 1, 2)
		_, err := ListLayerFiles(dir)
		assert.ErrorIs(t, err, ErrLayerSequence)
	})

	t.Run("duplicate index", func(t *testing.T) {
		dir := t.TempDir()
		touchLayers(t, dir, 0, 1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "layer_01_contours.json"), []byte("[]"), 0644))
		_, err := ListLayerFiles(dir)
		assert.ErrorIs(t, err, ErrLayerSequence)
	})

	t.Run("empty directory", func(t *testing.T) {
		files, err := ListLayerFiles(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, files)
	})
}

func TestVerifyExport(t *testing.T) {
	dir := t.TempDir()
	layers := []model.Layer{{Index: 0}, {Index: 1}, {Index: 2}}

	t.Run("complete", func(t *testing.T) {
		touchLayers(t, dir, 0, 1, 2)
		files, err := ListLayerFiles(dir)
		require.NoError(t, err)
		assert.NoError(t, VerifyExport(layers, files))
	})

	t.Run("deepest layer failed", func(t *testing.T) {
		dir := t.TempDir()
		touchLayers(t, dir, 0, 1)
		files, err := ListLayerFiles(dir)
		require.NoError(t, err, "contiguous prefix passes the sequence check")

		failed := []model.Layer{{Index: 0}, {Index: 1}, {Index: 2, Error: "smooth layer 2: boom"}}
		err = VerifyExport(failed, files)
		assert.ErrorIs(t, err, ErrLayerSequence)
		assert.ErrorContains(t, err, "[2]")
	})

	t.Run("missing trailing file", func(t *testing.T) {
		dir := t.TempDir()
		touchLayers(t, dir, 0, 1)
		files, err := ListLayerFiles(dir)
		require.NoError(t, err)
		assert.ErrorIs(t, VerifyExport(layers, files), ErrLayerSequence)
	})
}

func TestReadLayerShapes(t *testing.T) {
	dir := t.TempDir()
	shapes := []model.Shape{{
		Vertices:   []model.Point{{0, 0}, {0, 1}, {1, 1}, {0, 0}},
		Simplified: []model.Point{{0, 0}, {0, 1}, {1, 1}, {0, 0}},
		Holes:      []model.Hole{},
	}}
	path := filepath.Join(dir, LayerFileName(0, contoursSuffix))
	require.NoError(t, NewShapeExporter().WriteShapes(path, shapes))

	got, err := ReadLayerShapes(path)
	require.NoError(t, err)
	assert.Equal(t, shapes, got)

	bad := filepath.Join(dir, "layer_1_contours.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = ReadLayerShapes(bad)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ReadLayerShapes(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestListBathymetryFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "survey_b")
	require.NoError(t, os.MkdirAll(sub, 0755))

	for _, p := range []string{
		filepath.Join(dir, "b.asc"),
		filepath.Join(dir, "a.geo.tif"),
		filepath.Join(dir, "notes.txt"),
		filepath.Join(sub, "c.tif"),
	} {
		require.NoError(t, os.WriteFile(p, nil, 0644))
	}

	files, err := ListBathymetryFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.geo.tif"),
		filepath.Join(dir, "b.asc"),
		filepath.Join(sub, "c.tif"),
	}, files)

	_, err = ListBathymetryFiles(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrIO)
}
