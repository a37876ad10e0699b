// Package logrecorder writes zap logs into dated directories and rotates the
// file on a fixed interval.
package logrecorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultRotateInterval 日志文件轮换周期
const DefaultRotateInterval = 5 * time.Minute

// Options 配置日志记录器
type Options struct {
	// Dir 是日期目录所在的根目录，默认为当前目录
	Dir string
	// Debug 打开 Debug 级别
	Debug bool
	// Console 同时输出到 stderr
	Console bool
}

// Recorder 持有一个 zap.Logger，底层文件可以在运行中轮换
type Recorder struct {
	prefix string
	opts   Options
	now    func() time.Time

	mu   sync.Mutex
	file *os.File

	logger *zap.Logger
}

// NowString 返回格式为 "20060102_1504" 的时间字符串
func NowString(t time.Time) string {
	return t.Format("20060102_1504")
}

// MakeDir 在 base 下创建以日期命名的目录（如：2025_04_25）
func MakeDir(base string, t time.Time) (string, error) {
	fullPath := filepath.Join(base, t.Format("2006_01_02"))
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", fmt.Errorf("创建文件夹失败: %w", err)
	}
	return fullPath, nil
}

// New 创建记录器并打开第一个日志文件 <Dir>/<日期>/<prefix><时间>.log
func New(prefix string, opts Options) (*Recorder, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	r := &Recorder{prefix: prefix, opts: opts, now: time.Now}
	if err := r.Rotate(); err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Debug {
		level.SetLevel(zap.DebugLevel)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(r), level),
	}
	if opts.Console {
		conCfg := encCfg
		conCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(conCfg), zapcore.Lock(os.Stderr), level))
	}
	r.logger = zap.New(zapcore.NewTee(cores...))
	return r, nil
}

// Logger 返回写入当前文件的 logger
func (r *Recorder) Logger() *zap.Logger { return r.logger }

// Path 返回当前日志文件路径
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Rotate 按当前时间打开新的日志文件并关闭旧文件
func (r *Recorder) Rotate() error {
	now := r.now()
	dir, err := MakeDir(r.opts.Dir, now)
	if err != nil {
		return err
	}
	logPath := filepath.Join(dir, r.prefix+NowString(now)+".log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	r.mu.Lock()
	old := r.file
	r.file = f
	r.mu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

// Run 每隔 interval 轮换一次日志文件，直到 ctx 结束
func (r *Recorder) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRotateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Rotate(); err != nil {
				r.logger.Error("日志轮换失败", zap.Error(err))
			}
		}
	}
}

// Write 实现 io.Writer，写入当前文件
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return 0, os.ErrClosed
	}
	return r.file.Write(p)
}

// Close 刷新 logger 并关闭文件
func (r *Recorder) Close() error {
	_ = r.logger.Sync()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
