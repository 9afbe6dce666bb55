// objdump 以文本或 JSON 形式打印对象流的记录结构。
//
// 用法：
//
//	objdump [--config=<path>] [--format=text|json] [--max-bytes=N] [--max-depth=N] [file ...]
//
// 未给出文件时从标准输入读取。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/lk2023060901/objstream-go/application"
	"github.com/lk2023060901/objstream-go/internal/dump"
)

func main() {
	app := application.New("objdump")
	if err := app.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := loadConfig(app)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	paths := app.Args()
	if len(paths) == 0 {
		paths = []string{dump.Stdin}
	}
	if err := dump.DumpFiles(os.Stdout, paths, cfg); err != nil {
		app.Logger("dump").Error("objdump failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 读取配置文件的 objdump 节，命令行选项优先。
func loadConfig(app *application.Application) (dump.Config, error) {
	cfg := dump.DefaultConfig()
	if err := app.UnmarshalKey("objdump", &cfg); err != nil {
		return cfg, err
	}
	if v, ok := app.Option("format"); ok {
		cfg.Format = v
	}
	for name, dst := range map[string]*int{
		"max-bytes": &cfg.MaxBytes,
		"max-depth": &cfg.MaxDepth,
		"workers":   &cfg.Workers,
	} {
		v, ok := app.Option(name)
		if !ok {
			continue
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid --%s: %w", name, err)
		}
		*dst = n
	}
	return cfg, nil
}
