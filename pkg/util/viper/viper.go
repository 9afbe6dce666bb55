package viper

import (
	"path/filepath"
	"strings"

	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper，提供 YAML/JSON/TOML 配置文件的加载和按节反序列化。
// 零值和 New 返回的 Config 都是空配置，UnmarshalKey 对空配置不做任何修改。
type Config struct {
	v    *spfviper.Viper
	file string
}

func New() *Config {
	return &Config{v: spfviper.New()}
}

// LoadFile 加载配置文件，类型按扩展名推断，未知扩展名交给 viper 自行判断。
func (c *Config) LoadFile(path string) error {
	if c.v == nil {
		c.v = spfviper.New()
	}
	c.v.SetConfigFile(path)
	if typ := configType(path); typ != "" {
		c.v.SetConfigType(typ)
	}
	if err := c.v.ReadInConfig(); err != nil {
		return err
	}
	c.file = path
	return nil
}

// File 返回已加载的配置文件路径，未加载时为空。
func (c *Config) File() string {
	return c.file
}

// IsSet 判断配置中是否存在 key。
func (c *Config) IsSet(key string) bool {
	return c.v != nil && c.v.IsSet(key)
}

// Unmarshal 将完整配置反序列化到 dst。
func (c *Config) Unmarshal(dst any) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(dst)
}

// UnmarshalKey 将 key 对应的节反序列化到 dst，节不存在时 dst 保持不变。
func (c *Config) UnmarshalKey(key string, dst any) error {
	if !c.IsSet(key) {
		return nil
	}
	return c.v.UnmarshalKey(key, dst)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	}
	return ""
}
