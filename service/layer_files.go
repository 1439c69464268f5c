package service

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/TIANLI0/BathyLayer/model"
)

const contoursSuffix = "_contours.json"

var firstInteger = regexp.MustCompile(`\d+`)

// LayerFile 已导出的图层轮廓文件
type LayerFile struct {
	Index int
	Path  string
}

// LayerIndexFromName 取文件名中的首个整数作为图层序号
func LayerIndexFromName(name string) (int, error) {
	m := firstInteger.FindString(filepath.Base(name))
	if m == "" {
		return 0, fmt.Errorf("%w: no layer index in %q", ErrLayerSequence, name)
	}
	return strconv.Atoi(m)
}

// ListLayerFiles 按序号升序列出目录中的图层轮廓文件，序号必须从 0 连续
func ListLayerFiles(dir string) ([]LayerFile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+contoursSuffix))
	if err != nil {
		return nil, fmt.Errorf("%w: glob %s: %v", ErrIO, dir, err)
	}

	files := make([]LayerFile, 0, len(matches))
	for _, path := range matches {
		idx, err := LayerIndexFromName(path)
		if err != nil {
			return nil, err
		}
		files = append(files, LayerFile{Index: idx, Path: path})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Index < files[j].Index })

	for i, f := range files {
		if f.Index != i {
			return nil, fmt.Errorf("%w: expected layer %d, found %d (%s)",
				ErrLayerSequence, i, f.Index, filepath.Base(f.Path))
		}
	}
	return files, nil
}

// VerifyExport 检查导出的图层文件是否覆盖全部图层，任一图层失败即视为导出不完整
func VerifyExport(layers []model.Layer, files []LayerFile) error {
	var skipped []int
	for _, l := range layers {
		if l.Error != "" {
			skipped = append(skipped, l.Index)
		}
	}
	if len(skipped) > 0 {
		return fmt.Errorf("%w: layers %v failed to export", ErrLayerSequence, skipped)
	}
	if len(files) != len(layers) {
		return fmt.Errorf("%w: found %d layer files, expected %d", ErrLayerSequence, len(files), len(layers))
	}
	return nil
}

// ReadLayerShapes 读取单个图层轮廓文件
func ReadLayerShapes(path string) ([]model.Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	var shapes []model.Shape
	if err := json.Unmarshal(data, &shapes); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnsupportedFormat, path, err)
	}
	return shapes, nil
}

// ListBathymetryFiles 递归查找可识别的深度栅格文件
func ListBathymetryFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, err := DetectFormat(path); err == nil {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", ErrIO, dir, err)
	}
	sort.Strings(files)
	return files, nil
}
