package objstream

import (
	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/objstream-go/pkg/util/viper"
)

const (
	defaultMaxDepth       = 4096
	defaultInitialHandles = 10
	handleLoadFactor      = 3.0
)

// Config 读写流的配置。
type Config struct {
	// 对象嵌套的最大深度。
	MaxDepth int `toml:"max-depth" json:"max-depth" mapstructure:"max-depth"`
	// 是否调用 WithReplacer 设置的流级替换函数。
	EnableReplace bool `toml:"enable-replace" json:"enable-replace" mapstructure:"enable-replace"`
	// 是否调用 WithObjectResolver 设置的流级解析函数。
	EnableResolve bool `toml:"enable-resolve" json:"enable-resolve" mapstructure:"enable-resolve"`
	// 写端底层缓冲区大小，0 表示不额外缓冲。
	BufferSize int `toml:"buffer-size" json:"buffer-size" mapstructure:"buffer-size"`
	// 句柄表的初始容量。
	InitialHandles int `toml:"initial-handles" json:"initial-handles" mapstructure:"initial-handles"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	cfg := Config{}
	cfg.initialize()
	return cfg
}

func (cfg *Config) initialize() {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.BufferSize < 0 {
		cfg.BufferSize = 0
	}
	if cfg.InitialHandles <= 0 {
		cfg.InitialHandles = defaultInitialHandles
	}
}

// LoadConfig 从 YAML 或 JSON 文件的 objstream 节加载配置，未设置的项取默认值。
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	if err := v.LoadFile(path); err != nil {
		return Config{}, errors.Wrapf(err, "load objstream config %s", path)
	}
	cfg := Config{}
	if err := v.UnmarshalKey("objstream", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal objstream config")
	}
	cfg.initialize()
	return cfg, nil
}
