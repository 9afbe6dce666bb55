package application

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	zlog "github.com/lk2023060901/objstream-go/pkg/log"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
	zviper "github.com/lk2023060901/objstream-go/pkg/util/viper"
)

// Application 命令行工具的运行时容器，持有配置、日志和命令行参数。
type Application struct {
	name    string
	cfg     *zviper.Config
	args    []string
	options map[string]string
	loggers map[string]*zlog.MLogger
}

// New 创建名为 name 的 Application，name 同时决定默认配置文件名和环境变量前缀。
func New(name string) *Application {
	return &Application{name: name}
}

// Run 解析命令行参数并加载配置。
// 配置文件路径的优先级：
//  1. 默认：./<name>.yaml，文件不存在时使用空配置
//  2. 环境变量：<NAME>_CONFIG_FILE_PATH
//  3. 命令行：--config <path> 或 --config=<path>
func (a *Application) Run(args []string) error {
	configPath, explicit, err := a.parseArgs(args)
	if err != nil {
		return err
	}
	if path := os.Getenv(a.envKey("CONFIG_FILE_PATH")); path != "" && !explicit {
		configPath, explicit = path, true
	}

	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}
	a.cfg = cfg

	return a.initLogging()
}

// Config 返回加载的配置，未加载任何文件时为空配置。
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Args 返回选项之外的位置参数。
func (a *Application) Args() []string {
	return a.args
}

// Option 返回 --name=value 形式的选项值。
func (a *Application) Option(name string) (string, bool) {
	v, ok := a.options[name]
	return v, ok
}

// UnmarshalKey 将配置中的 key 节反序列化到 dst，节不存在时 dst 保持不变。
func (a *Application) UnmarshalKey(key string, dst any) error {
	if a.cfg == nil {
		return nil
	}
	return a.cfg.UnmarshalKey(key, dst)
}

// Logger 返回配置中 logging 节定义的命名日志，未定义时回退到全局日志。
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

func (a *Application) parseArgs(args []string) (configPath string, explicit bool, err error) {
	configPath = "./" + a.name + ".yaml"
	a.args = a.args[:0]
	a.options = make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			a.args = append(a.args, args[i+1:]...)
			return configPath, explicit, nil
		case arg == "--config":
			if i+1 >= len(args) {
				return "", false, merr.WrapErrParameterMissing("--config", "missing value after --config")
			}
			configPath, explicit = args[i+1], true
			i++
		case strings.HasPrefix(arg, "--config="):
			if v := strings.TrimPrefix(arg, "--config="); v != "" {
				configPath, explicit = v, true
			}
		case strings.HasPrefix(arg, "--"):
			name, value, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
			a.options[name] = value
		default:
			a.args = append(a.args, arg)
		}
	}
	return configPath, explicit, nil
}

func (a *Application) envKey(suffix string) string {
	return strings.ToUpper(a.name) + "_" + suffix
}

func loadConfig(path string, explicit bool) (*zviper.Config, error) {
	cfg := zviper.New()
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}
	if err := cfg.LoadFile(path); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", path)
	}
	return cfg, nil
}

func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv 根据 <NAME>_LOG_* 环境变量配置全局日志：
//   - <NAME>_LOG_ENABLE：为 1/true 时开启输出，否则丢弃所有日志。
//   - <NAME>_LOG_LEVEL：日志级别，默认 info。
//   - <NAME>_LOG_STDOUT：是否输出到标准输出。
//   - <NAME>_LOG_FILE_DIR、<NAME>_LOG_FILE：文件日志的目录和文件名。
//   - <NAME>_LOG_FORMAT：text 或 json。
func (a *Application) initGlobalLoggerFromEnv() error {
	cfg := &zlog.Config{
		Level:  getenvDefault(a.envKey("LOG_LEVEL"), "info"),
		Format: getenvDefault(a.envKey("LOG_FORMAT"), "text"),
		Stdout: getenvBool(a.envKey("LOG_STDOUT"), false),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault(a.envKey("LOG_FILE_DIR"), ""),
			Filename: getenvDefault(a.envKey("LOG_FILE"), ""),
		},
	}
	if !getenvBool(a.envKey("LOG_ENABLE"), false) {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig 按配置中的 logging 节创建命名日志，例如：
//
//	logging:
//	  dump:
//	    level: debug
//	    stdout: true
func (a *Application) initModuleLoggersFromConfig() error {
	raw := make(map[string]zlog.Config)
	if err := a.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
