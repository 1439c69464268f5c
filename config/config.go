package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Export   ExportConfig   `mapstructure:"export"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`
	UploadDir         string   `mapstructure:"upload_dir"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	CleanupTempFiles  bool     `mapstructure:"cleanup_temp_files"`
}

// PipelineConfig 量化与轮廓提取参数
type PipelineConfig struct {
	// CellSizeM 单个网格的水平分辨率（米），仅用于图表标注
	CellSizeM float64 `mapstructure:"cell_size_m" json:"cell_size_m"`
	// DepthUnitM 原始深度单位换算为米的系数，例如厘米数据为 0.01
	DepthUnitM float64 `mapstructure:"depth_unit_m" json:"depth_unit_m"`
	// DepthMinM 截断下限，可为负以保留潮间带
	DepthMinM float64 `mapstructure:"depth_min_m" json:"depth_min_m"`
	// DepthMaxM 为 0 表示不设上限
	DepthMaxM float64 `mapstructure:"depth_max_m" json:"depth_max_m"`
	// MaxZScore 为 0 表示不做离群值截断
	MaxZScore           float64 `mapstructure:"max_z_score" json:"max_z_score"`
	Levels              int     `mapstructure:"levels" json:"levels"`
	QuantizeDepthStartM float64 `mapstructure:"quantize_depth_start_m" json:"quantize_depth_start_m"`
	ScaleUpFactor       int     `mapstructure:"scale_up_factor" json:"scale_up_factor"`
	ForceFirstLayer     bool    `mapstructure:"force_first_layer" json:"force_first_layer"`
	SimplifyTolerance   float64 `mapstructure:"simplify_tolerance" json:"simplify_tolerance"`
	// MinShapeArea 归一化坐标下的最小面积，0 表示不过滤
	MinShapeArea float64 `mapstructure:"min_shape_area" json:"min_shape_area"`

	MaxConcurrent int `mapstructure:"max_concurrent" json:"-"`
	QueueTimeout  int `mapstructure:"queue_timeout" json:"-"`
}

type ExportConfig struct {
	OutputDir   string `mapstructure:"output_dir"`
	Diagnostics bool   `mapstructure:"diagnostics"`
	// Workers 并行处理的图层数，1 表示顺序处理
	Workers int `mapstructure:"workers"`
}

// Validate 检查参数是否合法
func (p PipelineConfig) Validate() error {
	switch {
	case p.Levels < 2 || p.Levels > 256:
		return fmt.Errorf("levels must be within [2, 256], got %d", p.Levels)
	case p.DepthUnitM <= 0:
		return fmt.Errorf("depth_unit_m must be positive, got %g", p.DepthUnitM)
	case p.DepthMaxM > 0 && p.DepthMaxM <= p.DepthMinM:
		return fmt.Errorf("depth_max_m (%g) must exceed depth_min_m (%g)", p.DepthMaxM, p.DepthMinM)
	case p.MaxZScore < 0:
		return fmt.Errorf("max_z_score must not be negative, got %g", p.MaxZScore)
	case p.QuantizeDepthStartM < 0:
		return fmt.Errorf("quantize_depth_start_m must not be negative, got %g", p.QuantizeDepthStartM)
	case p.ScaleUpFactor < 0 || p.ScaleUpFactor%2 != 0:
		return fmt.Errorf("scale_up_factor must be a non-negative multiple of 2, got %d", p.ScaleUpFactor)
	case p.SimplifyTolerance < 0:
		return fmt.Errorf("simplify_tolerance must not be negative, got %g", p.SimplifyTolerance)
	case p.MinShapeArea < 0:
		return fmt.Errorf("min_shape_area must not be negative, got %g", p.MinShapeArea)
	}
	return nil
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BATHY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 64*1024*1024)
	v.SetDefault("upload.upload_dir", "./uploads")
	v.SetDefault("upload.allowed_extensions", []string{".asc", ".tif", ".tiff", ".geotif", ".geotiff"})
	v.SetDefault("upload.cleanup_temp_files", true)

	v.SetDefault("pipeline.cell_size_m", 1.0)
	v.SetDefault("pipeline.depth_unit_m", 1.0)
	v.SetDefault("pipeline.depth_min_m", 0.0)
	v.SetDefault("pipeline.depth_max_m", 0.0)
	v.SetDefault("pipeline.max_z_score", 0.0)
	v.SetDefault("pipeline.levels", 4)
	v.SetDefault("pipeline.quantize_depth_start_m", 1.0)
	v.SetDefault("pipeline.scale_up_factor", 4)
	v.SetDefault("pipeline.force_first_layer", true)
	v.SetDefault("pipeline.simplify_tolerance", 0.001)
	v.SetDefault("pipeline.min_shape_area", 0.0)
	v.SetDefault("pipeline.max_concurrent", 2)
	v.SetDefault("pipeline.queue_timeout", 30)

	v.SetDefault("export.output_dir", "./output")
	v.SetDefault("export.diagnostics", true)
	v.SetDefault("export.workers", 1)
}

// DefaultPipeline 返回默认的流水线参数
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		CellSizeM:           1,
		DepthUnitM:          1,
		Levels:              4,
		QuantizeDepthStartM: 1,
		ScaleUpFactor:       4,
		ForceFirstLayer:     true,
		SimplifyTolerance:   0.001,
		MaxConcurrent:       2,
		QueueTimeout:        30,
	}
}

// Default 返回完整的默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:           64 * 1024 * 1024,
			UploadDir:         "./uploads",
			AllowedExtensions: []string{".asc", ".tif", ".tiff", ".geotif", ".geotiff"},
			CleanupTempFiles:  true,
		},
		Pipeline: DefaultPipeline(),
		Export: ExportConfig{
			OutputDir:   "./output",
			Diagnostics: true,
			Workers:     1,
		},
	}
}
