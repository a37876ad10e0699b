package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/LoveWonYoung/isotplite/canbuf"
	"github.com/LoveWonYoung/isotplite/tp_layer"
)

// ErrQueueFull 表示在重试次数内队列一直没有空位
var ErrQueueFull = errors.New("driver: frame queue full")

// Adapter 把 CANDriver 连接到 tp_layer：接收方向把帧交给队列，
// 发送方向为引擎提供 TransmitFunc。
type Adapter struct {
	driver CANDriver
	log    *zap.Logger

	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// NewAdapter 初始化并启动设备
func NewAdapter(dev CANDriver, log *zap.Logger) (*Adapter, error) {
	if dev == nil {
		return nil, errors.New("CAN driver instance cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize CAN device: %w", err)
	}
	dev.Start()
	log.Debug("adapter created and device started")
	return &Adapter{driver: dev, log: log}, nil
}

// Close 停止驱动并释放资源
func (a *Adapter) Close() {
	a.log.Debug("closing adapter",
		zap.Uint64("forwarded", a.forwarded.Load()),
		zap.Uint64("dropped", a.dropped.Load()))
	a.driver.Stop()
}

// TxFunc 返回引擎使用的发送函数。写失败记录日志并返回 false。
func (a *Adapter) TxFunc() tp_layer.TransmitFunc {
	return func(id uint32, data [8]byte, length uint8) bool {
		if err := a.driver.Write(id, data[:min(length, canbuf.MaxDataLength)]); err != nil {
			a.log.Warn("write failed", zap.Uint32("id", id), zap.Error(err))
			return false
		}
		return true
	}
}

// WriteFrame 实现 tp_layer.FrameWriter，写失败时重试
func (a *Adapter) WriteFrame(ctx context.Context, f canbuf.CanFrame) error {
	return retry.Do(func() error {
		return a.driver.Write(f.ID, f.Payload())
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			a.log.Debug("retrying write", zap.Uint("attempt", n), zap.Error(err))
		}),
		retry.LastErrorOnly(true),
	)
}

// Forward 把收到的帧交给 sink，直到 ctx 结束或接收通道关闭。
// sink 返回 false 表示帧被丢弃。
func (a *Adapter) Forward(ctx context.Context, sink func(canbuf.CanFrame) bool) error {
	rx := a.driver.RxChan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.driver.Context().Done():
			return nil
		case f, ok := <-rx:
			if !ok {
				return nil
			}
			if sink(f) {
				a.forwarded.Add(1)
				continue
			}
			if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
				a.log.Warn("frame queue full, dropping", zap.Stringer("frame", f), zap.Uint64("dropped", n))
			}
		}
	}
}

// Counts 返回转发和丢弃的帧数
func (a *Adapter) Counts() (forwarded, dropped uint64) {
	return a.forwarded.Load(), a.dropped.Load()
}

// EnqueueWithRetry 在队列满时退避重试，用于可以等待的生产者。
func EnqueueWithRetry(ctx context.Context, enqueue func(canbuf.CanFrame) bool, f canbuf.CanFrame, attempts uint, delay time.Duration) error {
	return retry.Do(func() error {
		if !enqueue(f) {
			return ErrQueueFull
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}
