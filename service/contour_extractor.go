package service

import (
	"fmt"
	"image"
	"math"

	"github.com/TIANLI0/BathyLayer/model"
	"github.com/TIANLI0/BathyLayer/utils"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// noParent 层级关系中最外层轮廓的父索引
const noParent = -1

// Contour 轮廓像素坐标及其在层级中的父索引
type Contour struct {
	Points []image.Point
	Parent int
}

// ContourResult 一个图层掩码的轮廓提取结果
type ContourResult struct {
	Rows     int
	Cols     int
	Binary   []byte
	Contours []Contour
	Shapes   []model.Shape
}

// ContourExtractor 负责将二值掩码转换为带孔洞的多边形
type ContourExtractor struct {
	minShapeArea float64
}

func NewContourExtractor(minShapeArea float64) *ContourExtractor {
	return &ContourExtractor{minShapeArea: minShapeArea}
}

// Extract 追踪全部轮廓层级，输出归一化的外轮廓与孔洞
func (ce *ContourExtractor) Extract(mask *LayerMask, simplifyTolerance float64) (*ContourResult, error) {
	result := &ContourResult{
		Rows:   mask.Rows,
		Cols:   mask.Cols,
		Binary: mask.Bytes(),
		Shapes: []model.Shape{},
	}
	if mask.Rows == 0 || mask.Cols == 0 {
		return result, nil
	}

	contours, err := traceContours(result.Binary, mask.Rows, mask.Cols)
	if err != nil {
		return nil, err
	}
	result.Contours = contours
	result.Shapes = ce.BuildShapes(contours, max(mask.Rows, mask.Cols), simplifyTolerance)

	return result, nil
}

// traceContours 调用 findContours(RETR_TREE) 获取轮廓及父子关系
func traceContours(binary []byte, rows, cols int) ([]Contour, error) {
	src, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8U, binary)
	if err != nil {
		return nil, fmt.Errorf("failed to build binary mat: %w", err)
	}
	img := src.Clone()
	src.Close()
	defer img.Close()

	hierarchy := gocv.NewMat()
	defer hierarchy.Close()

	found := gocv.FindContoursWithParams(img, &hierarchy, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer found.Close()

	contours := make([]Contour, found.Size())
	for i := range contours {
		parent := noParent
		if !hierarchy.Empty() {
			// [next, previous, first_child, parent]
			parent = int(hierarchy.GetVeciAt(0, i)[3])
		}
		contours[i] = Contour{
			Points: found.At(i).ToPoints(),
			Parent: parent,
		}
	}
	return contours, nil
}

// BuildShapes 以最外层轮廓为外边界、其直接子轮廓为孔洞构造多边形
//
// 顶层顺序沿用追踪顺序，孔洞按轮廓下标排序。顶点数 <= 2 的轮廓被丢弃。
func (ce *ContourExtractor) BuildShapes(contours []Contour, maxDim int, simplifyTolerance float64) []model.Shape {
	shapes := []model.Shape{}
	scale := 1 / float64(maxDim)

	for idx, c := range contours {
		if c.Parent != noParent {
			continue
		}
		if len(c.Points) <= 2 {
			utils.Logger.Info("discarding degenerate contour",
				zap.Int("contour", idx),
				zap.Int("vertices", len(c.Points)))
			continue
		}

		outer := normalizeRing(c.Points, scale)
		outerSimplified := simplifyRing(outer, simplifyTolerance)
		if ce.minShapeArea > 0 && ringArea(outerSimplified) < ce.minShapeArea {
			utils.Logger.Debug("discarding small shape", zap.Int("contour", idx))
			continue
		}

		shape := model.Shape{
			Vertices:   toPoints(outer),
			Simplified: toPoints(outerSimplified),
			Holes:      []model.Hole{},
		}

		for holeIdx, h := range contours {
			if h.Parent != idx {
				continue
			}
			if len(h.Points) <= 2 {
				utils.Logger.Info("discarding degenerate hole",
					zap.Int("contour", holeIdx),
					zap.Int("vertices", len(h.Points)))
				continue
			}
			ring := normalizeRing(h.Points, scale)
			simplified := simplifyRing(ring, simplifyTolerance)
			if ce.minShapeArea > 0 && ringArea(simplified) < ce.minShapeArea {
				continue
			}
			shape.Holes = append(shape.Holes, model.Hole{
				Vertices:   toPoints(ring),
				Simplified: toPoints(simplified),
			})
		}

		shapes = append(shapes, shape)
	}

	return shapes
}

// normalizeRing 除以较长边映射到单位正方形，并闭合首尾
func normalizeRing(points []image.Point, scale float64) orb.Ring {
	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, orb.Point{float64(p.X) * scale, float64(p.Y) * scale})
	}
	return append(ring, ring[0])
}

// simplifyRing Douglas-Peucker 简化，退化为少于 3 个不同顶点时保留原始环
func simplifyRing(ring orb.Ring, tolerance float64) orb.Ring {
	if tolerance <= 0 {
		return ring.Clone()
	}
	simplified := simplify.DouglasPeucker(tolerance).Ring(ring.Clone())
	if len(simplified) < 4 {
		return ring.Clone()
	}
	return simplified
}

func ringArea(ring orb.Ring) float64 {
	return math.Abs(planar.Area(ring))
}

func toPoints(ring orb.Ring) []model.Point {
	out := make([]model.Point, len(ring))
	for i, p := range ring {
		out[i] = model.Point{p[0], p[1]}
	}
	return out
}
