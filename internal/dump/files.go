package dump

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lk2023060901/objstream-go/pkg/log"
	"github.com/lk2023060901/objstream-go/pkg/util/conc"
)

// Stdin 作为路径时表示从标准输入读取。
const Stdin = "-"

type fileResult struct {
	stream *Stream
	err    error
}

// DumpFiles 并发解析 paths 中的流文件，按参数顺序渲染到 w。
// 单个文件出错不影响其余文件，已解析的部分照常输出，所有错误合并后返回。
func DumpFiles(w io.Writer, paths []string, cfg Config) error {
	cfg.initialize()
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool := conc.NewPool[fileResult](min(workers, max(len(paths), 1)), conc.WithName("dump"), conc.WithConcealPanic(true))
	defer pool.Release()

	futures := lo.Map(paths, func(path string, _ int) *conc.Future[fileResult] {
		return pool.Submit(func() (fileResult, error) {
			st, err := parseFile(path, cfg)
			return fileResult{stream: st, err: err}, nil
		})
	})

	var errs error
	for i, future := range futures {
		res, err := future.Await()
		if err == nil {
			err = res.err
		}
		if len(paths) > 1 {
			if _, werr := fmt.Fprintf(w, "==> %s <==\n", paths[i]); werr != nil {
				return werr
			}
		}
		if res.stream != nil {
			if rerr := Render(w, res.stream, cfg); rerr != nil {
				return rerr
			}
		}
		if err != nil {
			log.Warn("dump failed", log.FieldComponent("dump"), zap.String("path", paths[i]), zap.Error(err))
			errs = multierr.Append(errs, errors.Wrapf(err, "dump %s", paths[i]))
		}
	}
	return errs
}

func parseFile(path string, cfg Config) (*Stream, error) {
	if path == Stdin {
		return Parse(os.Stdin, cfg)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, cfg)
}
