package service

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const (
	// medianPasses 中值滤波次数，足以抹去孤立噪点
	medianPasses     = 15
	medianKernelSize = 7
	binarizeLevel    = 128
)

// LayerMask 与深度网格同尺寸的二值掩码
type LayerMask struct {
	Rows  int
	Cols  int
	Cells []bool
}

func NewLayerMask(rows, cols int) *LayerMask {
	return &LayerMask{Rows: rows, Cols: cols, Cells: make([]bool, rows*cols)}
}

func (m *LayerMask) At(r, c int) bool {
	return m.Cells[r*m.Cols+c]
}

// Count 返回为真的单元数
func (m *LayerMask) Count() int {
	n := 0
	for _, v := range m.Cells {
		if v {
			n++
		}
	}
	return n
}

// Contains 判断 other 是否为 m 的子集
func (m *LayerMask) Contains(other *LayerMask) bool {
	if m.Rows != other.Rows || m.Cols != other.Cols {
		return false
	}
	for i, v := range other.Cells {
		if v && !m.Cells[i] {
			return false
		}
	}
	return true
}

// Bytes 编码为 0/255 灰度
func (m *LayerMask) Bytes() []byte {
	out := make([]byte, len(m.Cells))
	for i, v := range m.Cells {
		if v {
			out[i] = 255
		}
	}
	return out
}

// Inverted 编码为反相灰度，陆地为白色
func (m *LayerMask) Inverted() []byte {
	out := m.Bytes()
	for i := range out {
		out[i] = 255 - out[i]
	}
	return out
}

// MaskProcessor 负责生成和平滑图层掩码
type MaskProcessor struct{}

func NewMaskProcessor() *MaskProcessor {
	return &MaskProcessor{}
}

// LayerMask 第 layer 个图层的掩码：量化深度 >= 阈值
//
// forceFirst 时第 0 层忽略量化，取所有深度 > 0 的单元，避免岸边浅水被舍入到 0 而丢失。
func (mp *MaskProcessor) LayerMask(q *QuantizeResult, layer int, forceFirst bool) (*LayerMask, error) {
	if layer < 0 || layer >= q.LayerCount() {
		return nil, fmt.Errorf("layer %d out of range [0, %d)", layer, q.LayerCount())
	}

	mask := NewLayerMask(q.Grid.Rows, q.Grid.Cols)
	if layer == 0 && forceFirst {
		for i, v := range q.Grid.Data {
			mask.Cells[i] = v > 0
		}
		return mask, nil
	}

	threshold := q.LayerDepth(layer)
	for i, v := range q.Grid.Data {
		mask.Cells[i] = v >= threshold
	}
	return mask, nil
}

// Smooth 放大、多次中值滤波、缩小后重新二值化，返回原始分辨率的掩码
func (mp *MaskProcessor) Smooth(mask *LayerMask, scaleUpFactor int) (*LayerMask, error) {
	if mask.Rows == 0 || mask.Cols == 0 {
		return NewLayerMask(mask.Rows, mask.Cols), nil
	}

	src, err := gocv.NewMatFromBytes(mask.Rows, mask.Cols, gocv.MatTypeCV8U, mask.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to build mask mat: %w", err)
	}
	wip := src.Clone()
	src.Close()
	defer func() { wip.Close() }()

	steps := scaleUpFactor / 2
	for i := 0; i < steps; i++ {
		up := gocv.NewMat()
		gocv.PyrUp(wip, &up, image.Point{}, gocv.BorderDefault)
		wip.Close()
		wip = up
	}

	for i := 0; i < medianPasses; i++ {
		blurred := gocv.NewMat()
		gocv.MedianBlur(wip, &blurred, medianKernelSize)
		wip.Close()
		wip = blurred
	}

	for i := 0; i < steps; i++ {
		down := gocv.NewMat()
		gocv.PyrDown(wip, &down, image.Point{}, gocv.BorderDefault)
		wip.Close()
		wip = down
	}

	if wip.Rows() != mask.Rows || wip.Cols() != mask.Cols {
		resized := gocv.NewMat()
		gocv.Resize(wip, &resized, image.Point{X: mask.Cols, Y: mask.Rows}, 0, 0, gocv.InterpolationLinear)
		wip.Close()
		wip = resized
	}

	smoothed := NewLayerMask(mask.Rows, mask.Cols)
	for i, v := range wip.ToBytes() {
		smoothed.Cells[i] = v >= binarizeLevel
	}
	return smoothed, nil
}
