package service

import "errors"

var (
	// ErrUnsupportedFormat 文件扩展名或内容不属于任何已知的栅格编码
	ErrUnsupportedFormat = errors.New("unsupported grid format")
	// ErrDegenerateInput 网格为空或归一化后深度范围为零
	ErrDegenerateInput = errors.New("degenerate input grid")
	// ErrIO 输入或输出文件读写失败
	ErrIO = errors.New("io failure")
	// ErrInvalidConfig 流水线参数无法产生有效的分层
	ErrInvalidConfig = errors.New("invalid pipeline config")
	// ErrLayerSequence 图层文件序号缺失或重复
	ErrLayerSequence = errors.New("invalid layer file sequence")
	// ErrBusy 处理队列已满
	ErrBusy = errors.New("processing queue is full")
)
