package app

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/bookd-next/internal/config"
	"github.com/bookd-next/internal/logger"

	"go.uber.org/zap"
)

// 启动模式：all 同时运行 API 与后台任务，api 只提供接口，worker 只跑队列消费与定时任务
const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

// ValidateMode 校验启动模式
func ValidateMode(mode string) error {
	switch mode {
	case ModeAll, ModeAPI, ModeWorker:
		return nil
	}
	return fmt.Errorf("unknown mode %q (want %s, %s or %s)", mode, ModeAll, ModeAPI, ModeWorker)
}

const defaultShutdownTimeout = 10 * time.Second

// Options 应用启动选项
type Options struct {
	Config  *config.Config
	Logger  *zap.SugaredLogger
	Signals []os.Signal // 收到任一信号即开始优雅停机
	// ShutdownTimeout 所有服务停止的总时限
	ShutdownTimeout time.Duration
	Mode            string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logger.S()
	}
	o.ShutdownTimeout = cmp.Or(max(o.ShutdownTimeout, 0), defaultShutdownTimeout)
	o.Mode = cmp.Or(o.Mode, ModeAll)
	return o
}
