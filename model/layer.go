package model

// Point 归一化到单位正方形的坐标 [x, y]
type Point [2]float64

// Hole 外轮廓内部的孔洞，不再嵌套
type Hole struct {
	Vertices   []Point `json:"vertices"`
	Simplified []Point `json:"simplified"`
}

// Shape 单个外轮廓及其直接孔洞，CAD 工具按此格式读取
type Shape struct {
	Vertices   []Point `json:"vertices"`
	Simplified []Point `json:"simplified"`
	Holes      []Hole  `json:"holes"`
}

// Layer 单个深度分层
type Layer struct {
	Index  int     `json:"index"`
	DepthM float64 `json:"depth_m"`
	Shapes []Shape `json:"shapes"`
	Error  string  `json:"error,omitempty"`
}

// LayerResult 分层结果
type LayerResult struct {
	MD5         string    `json:"md5"`
	CacheKey    string    `json:"cache_key,omitempty"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	MaxDepthM   float64   `json:"max_depth_m"`
	Thresholds  []float64 `json:"thresholds"`
	Layers      []Layer   `json:"layers"`
	Timestamp   int64     `json:"timestamp"`
	ElapsedMsec int64     `json:"elapsed_msec"`
}

// UploadResponse 上传响应
type UploadResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    *LayerResult `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
