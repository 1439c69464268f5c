package service

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TIANLI0/BathyLayer/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// GridFormat 支持的深度栅格编码
type GridFormat int

const (
	// FormatASCIIGrid 带 7 行表头的空白分隔 ASCII 网格，数值为原始单位
	FormatASCIIGrid GridFormat = iota + 1
	// FormatInverseElevation 相对基准面的高程栅格，负值为水深
	FormatInverseElevation
	// FormatElevation 无基准面的通用高程栅格，0 视为无数据
	FormatElevation
)

const asciiHeaderLines = 7

func (f GridFormat) String() string {
	switch f {
	case FormatASCIIGrid:
		return "ascii_grid"
	case FormatInverseElevation:
		return "inverse_elevation"
	case FormatElevation:
		return "elevation"
	}
	return "unknown"
}

// Extension 返回能被 DetectFormat 识别回同一格式的文件后缀
func (f GridFormat) Extension() string {
	switch f {
	case FormatASCIIGrid:
		return ".asc"
	case FormatInverseElevation:
		return ".geo.tif"
	case FormatElevation:
		return ".tif"
	}
	return ""
}

// DetectFormat 根据文件名判断栅格编码
func DetectFormat(name string) (GridFormat, error) {
	base := strings.ToLower(filepath.Base(name))
	ext := filepath.Ext(base)

	switch {
	case strings.Contains(ext, "asc"):
		return FormatASCIIGrid, nil
	case strings.HasSuffix(base, ".geo.tif") || strings.Contains(ext, "geotif"):
		return FormatInverseElevation, nil
	case strings.Contains(ext, "tif"):
		return FormatElevation, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Base(name))
}

// LoadGrid 读取深度栅格文件，返回原始单位的网格
func LoadGrid(path string) (*DepthGrid, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var grid *DepthGrid
	switch format {
	case FormatASCIIGrid:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
		}
		defer f.Close()
		grid, err = ReadASCIIGrid(f)
		if err != nil {
			return nil, err
		}
	default:
		raster, err := readRaster(path)
		if err != nil {
			return nil, err
		}
		if format == FormatInverseElevation {
			grid = InverseElevationToDepth(raster)
		} else {
			grid = ElevationToDepth(raster)
		}
	}

	utils.Logger.Info("grid loaded",
		zap.String("path", path),
		zap.String("format", format.String()),
		zap.Int("rows", grid.Rows),
		zap.Int("cols", grid.Cols))

	return grid, nil
}

// ReadASCIIGrid 跳过固定表头后逐行解析浮点数
func ReadASCIIGrid(r io.Reader) (*DepthGrid, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var (
		data []float64
		cols int
		rows int
		line int
	)
	for scanner.Scan() {
		line++
		if line <= asciiHeaderLines {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if rows == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, fmt.Errorf("%w: line %d has %d values, expected %d",
				ErrUnsupportedFormat, line, len(fields), cols)
		}
		for _, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrUnsupportedFormat, line, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read ascii grid: %v", ErrIO, err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: ascii grid has no data rows", ErrDegenerateInput)
	}

	return &DepthGrid{Rows: rows, Cols: cols, Data: data}, nil
}

// InverseElevationToDepth 高于基准面的像素记为 0，其余取负得到水深
func InverseElevationToDepth(raster *DepthGrid) *DepthGrid {
	out := raster.Clone()
	for i, v := range out.Data {
		if v > 0 {
			v = 0
		}
		out.Data[i] = -v
	}
	return out
}

// ElevationToDepth 将通用高程反转为水深：最高点视为陆地，0 值视为无数据并按陆地处理
func ElevationToDepth(raster *DepthGrid) *DepthGrid {
	out := raster.Clone()
	if out.Empty() {
		return out
	}

	ground := out.Max()
	for i, v := range out.Data {
		if v == 0 {
			out.Data[i] = ground
		}
	}

	lo, hi := out.MinMax()
	for i, v := range out.Data {
		out.Data[i] = (hi - lo) - (v - lo)
	}
	return out
}

// readRaster 读取单通道栅格，多通道时只取第一个通道
func readRaster(path string) (*DepthGrid, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}

	img := gocv.IMRead(path, gocv.IMReadUnchanged)
	if img.Empty() {
		return nil, fmt.Errorf("%w: failed to decode raster %s", ErrUnsupportedFormat, path)
	}
	defer img.Close()

	src := img
	if img.Channels() > 1 {
		channels := gocv.Split(img)
		defer func() {
			for _, ch := range channels {
				ch.Close()
			}
		}()
		src = channels[0]
	}

	values := gocv.NewMat()
	defer values.Close()
	src.ConvertTo(&values, gocv.MatTypeCV32F)

	data, err := values.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: read raster values: %v", ErrUnsupportedFormat, err)
	}

	grid := NewDepthGrid(values.Rows(), values.Cols())
	for i, v := range data {
		grid.Data[i] = float64(v)
	}
	return grid, nil
}
