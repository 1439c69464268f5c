package service

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// bowlGrid 中心最深、半径外为 0 的抛物面洼地
func bowlGrid(size int, cx, cy, radius, depth float64) *DepthGrid {
	g := NewDepthGrid(size, size)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			d := math.Hypot(float64(c)-cx, float64(r)-cy)
			if d < radius {
				g.Set(r, c, depth*(1-(d*d)/(radius*radius)))
			}
		}
	}
	return g
}

// writeASCIIGrid 写出带 7 行表头的 ASCII 网格
func writeASCIIGrid(t *testing.T, dir, name string, g *DepthGrid) string {
	t.Helper()

	var b strings.Builder
	fmt.Fprintf(&b, "ncols %d\nnrows %d\nxllcorner 0\nyllcorner 0\ncellsize 1\nNODATA_value -9999\nunits cm\n", g.Cols, g.Rows)
	for r := 0; r < g.Rows; r++ {
		row := make([]string, g.Cols)
		for c := 0; c < g.Cols; c++ {
			row[c] = fmt.Sprintf("%g", g.At(r, c))
		}
		b.WriteString(strings.Join(row, " "))
		b.WriteString("\n")
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

// rectMask 实心矩形，可选矩形孔洞
func rectMask(rows, cols int, outer, hole [4]int, withHole bool) *LayerMask {
	m := NewLayerMask(rows, cols)
	for r := outer[0]; r <= outer[2]; r++ {
		for c := outer[1]; c <= outer[3]; c++ {
			m.Cells[r*cols+c] = true
		}
	}
	if withHole {
		for r := hole[0]; r <= hole[2]; r++ {
			for c := hole[1]; c <= hole[3]; c++ {
				m.Cells[r*cols+c] = false
			}
		}
	}
	return m
}
