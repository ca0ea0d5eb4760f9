package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志输出配置
type Options struct {
	Level      string // debug/info/warn/error，空值按运行模式取默认
	Stdout     bool   // 非 debug 模式下同时以 JSON 输出到 stdout
	Dir        string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// 滚动文件默认值
var rotateDefaults = Options{
	Dir:        "logs",
	Filename:   "bookd.log",
	MaxSizeMB:  100,
	MaxBackups: 7,
	MaxAgeDays: 30,
}

// L 全局结构化日志实例，Init 之前为 nil
var L *zap.Logger

var (
	bootOnce   sync.Once
	bootLogger *zap.Logger
)

// Init 初始化全局日志并替换 zap 全局实例
func Init(mode string, options Options) *zap.Logger {
	L = New(mode, options)
	zap.ReplaceGlobals(L)
	return L
}

// New 按运行模式创建日志实例。
// debug 模式输出彩色控制台日志；其他模式写 JSON 到滚动文件，
// 文件不可写时退回 stdout。
func New(mode string, options Options) *zap.Logger {
	debug := strings.EqualFold(strings.TrimSpace(mode), "debug")
	level := resolveLevel(options.Level, debug)
	enc := newEncoderConfig()
	stdout := zapcore.Lock(os.Stdout)

	if debug {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return wrap(zapcore.NewCore(zapcore.NewConsoleEncoder(enc), stdout, level))
	}

	jsonEncoder := zapcore.NewJSONEncoder(enc)
	sink, err := openRollingSink(options)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log file unavailable, writing to stdout: %v\n", err)
		return wrap(zapcore.NewCore(jsonEncoder, stdout, level))
	}
	cores := []zapcore.Core{zapcore.NewCore(jsonEncoder, sink, level)}
	if options.Stdout {
		cores = append(cores, zapcore.NewCore(jsonEncoder, stdout, level))
	}
	return wrap(zapcore.NewTee(cores...))
}

func resolveLevel(raw string, debug bool) zap.AtomicLevel {
	fallback := zapcore.InfoLevel
	if debug {
		fallback = zapcore.DebugLevel
	}
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return zap.NewAtomicLevelAt(fallback)
	}
	parsed, err := zapcore.ParseLevel(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown log level %q, using %s\n", raw, fallback)
		return zap.NewAtomicLevelAt(fallback)
	}
	return zap.NewAtomicLevelAt(parsed)
}

// StdLogger 标准库 log 适配，供启动阶段使用
func StdLogger() *log.Logger {
	return zap.NewStdLog(current())
}

// S 当前 SugaredLogger
func S() *zap.SugaredLogger {
	return current().Sugar()
}

// SW 附带键值对的 SugaredLogger
func SW(kv ...interface{}) *zap.SugaredLogger {
	if len(kv) == 0 {
		return S()
	}
	return S().With(kv...)
}

func Debugw(message string, kv ...interface{}) { S().Debugw(message, kv...) }

func Infow(message string, kv ...interface{}) { S().Infow(message, kv...) }

func Warnw(message string, kv ...interface{}) { S().Warnw(message, kv...) }

func Errorw(message string, kv ...interface{}) { S().Errorw(message, kv...) }

// current Init 之前返回 info 级别的控制台日志
func current() *zap.Logger {
	if L != nil {
		return L
	}
	bootOnce.Do(func() {
		bootLogger = wrap(zapcore.NewCore(
			zapcore.NewConsoleEncoder(newEncoderConfig()),
			zapcore.Lock(os.Stdout),
			zap.NewAtomicLevelAt(zapcore.InfoLevel),
		))
	})
	return bootLogger
}

func newEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	return enc
}

// wrap 跳过包级便捷函数这一层调用栈
func wrap(core zapcore.Core) *zap.Logger {
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

func openRollingSink(options Options) (zapcore.WriteSyncer, error) {
	path, err := prepareLogFile(options)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(options.MaxSizeMB, rotateDefaults.MaxSizeMB),
		MaxBackups: positiveOr(options.MaxBackups, rotateDefaults.MaxBackups),
		MaxAge:     positiveOr(options.MaxAgeDays, rotateDefaults.MaxAgeDays),
		Compress:   options.Compress,
	}), nil
}

// prepareLogFile 创建日志目录并确认文件可写，返回文件路径
func prepareLogFile(options Options) (string, error) {
	dir := strings.TrimSpace(options.Dir)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve workdir: %w", err)
		}
		dir = filepath.Join(wd, rotateDefaults.Dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	name := strings.TrimSpace(options.Filename)
	if name == "" {
		name = rotateDefaults.Filename
	}
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}
	return path, f.Close()
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
