package dump

import "strings"

const (
	FormatText = "text"
	FormatJSON = "json"

	defaultMaxDepth = 4096
	defaultMaxBytes = 64
)

// Config objdump 的配置，对应配置文件中的 objdump 节。
type Config struct {
	// 输出格式：text 或 json。
	Format string `toml:"format" json:"format" mapstructure:"format"`
	// 记录嵌套的最大深度。
	MaxDepth int `toml:"max-depth" json:"max-depth" mapstructure:"max-depth"`
	// 文本输出中每个数据块最多显示的字节数，0 表示使用默认值，负数表示全部显示。
	MaxBytes int `toml:"max-bytes" json:"max-bytes" mapstructure:"max-bytes"`
	// 并发解析的文件数，0 表示按 CPU 数。
	Workers int `toml:"workers" json:"workers" mapstructure:"workers"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	cfg := Config{}
	cfg.initialize()
	return cfg
}

func (cfg *Config) initialize() {
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.Format == "" {
		cfg.Format = FormatText
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
}
