package driver

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

// MockCan 是虚拟 CAN 驱动，用于开发和测试，不依赖实际硬件。
// 写入被记录下来，并可以触发预设的自动响应或 OnWrite 回调。
type MockCan struct {
	mu        sync.Mutex
	rxChan    chan canbuf.CanFrame
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	writeLog  []WriteRecord
	responses []MockCANResponse
	onWrite   func(canbuf.CanFrame)
	log       *zap.Logger
}

// WriteRecord 记录一次写入操作
type WriteRecord struct {
	Frame     canbuf.CanFrame
	Timestamp time.Time
}

// MockCANResponse 定义预设的自动响应
type MockCANResponse struct {
	TriggerID   uint32        // 触发响应的请求 ID
	ResponseID  uint32        // 响应的 ID
	TriggerData []byte        // 触发响应的数据前缀 (可选)
	Response    []byte        // 响应数据
	Delay       time.Duration // 响应延迟
}

// NewMockCan 创建虚拟 CAN 设备。log 为 nil 时不记录日志。
func NewMockCan(log *zap.Logger) *MockCan {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MockCan{
		rxChan: make(chan canbuf.CanFrame, RxChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
		log:    log.Named("mock"),
	}
}

// Init 初始化虚拟设备 (总是成功)
func (c *MockCan) Init() error {
	c.log.Debug("device initialized")
	return nil
}

// Start 启动虚拟设备
func (c *MockCan) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
}

// Stop 停止虚拟设备并关闭接收通道
func (c *MockCan) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	close(c.rxChan)
	c.log.Debug("device stopped")
}

// Write 写入数据到虚拟设备
func (c *MockCan) Write(id uint32, data []byte) error {
	if len(data) > canbuf.MaxDataLength {
		return ErrDataTooLong
	}
	f := canbuf.NewFrame(id, data)

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.writeLog = append(c.writeLog, WriteRecord{Frame: f, Timestamp: time.Now()})
	onWrite := c.onWrite
	var triggered []MockCANResponse
	for _, resp := range c.responses {
		if resp.TriggerID == id && bytes.HasPrefix(data, resp.TriggerData) {
			triggered = append(triggered, resp)
		}
	}
	c.mu.Unlock()

	c.log.Debug("tx", zap.Stringer("frame", f))
	if onWrite != nil {
		onWrite(f)
	}
	for _, r := range triggered {
		go func(r MockCANResponse) {
			time.Sleep(r.Delay)
			if err := c.InjectMessage(r.ResponseID, r.Response); err != nil {
				c.log.Warn("auto response not delivered", zap.Error(err))
			}
		}(r)
	}
	return nil
}

// RxChan 返回接收通道
func (c *MockCan) RxChan() <-chan canbuf.CanFrame { return c.rxChan }

// Context 返回设备上下文
func (c *MockCan) Context() context.Context { return c.ctx }

// ============================================================================
// Mock 专用方法 - 用于测试
// ============================================================================

// InjectMessage 向接收通道注入一条消息 (模拟接收)
func (c *MockCan) InjectMessage(id uint32, data []byte) error {
	if len(data) > canbuf.MaxDataLength {
		return ErrDataTooLong
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	f := canbuf.NewFrame(id, data)
	select {
	case c.rxChan <- f:
		c.log.Debug("rx", zap.Stringer("frame", f))
		return nil
	default:
		return fmt.Errorf("inject %s: %w", f, ErrDroppedFrame)
	}
}

// OnWrite 设置每次写入后调用的回调，用于把发送的帧路由到对端
func (c *MockCan) OnWrite(fn func(canbuf.CanFrame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// AddResponse 添加一个预设响应
func (c *MockCan) AddResponse(r MockCANResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, r)
}

// ClearResponses 清除所有预设响应
func (c *MockCan) ClearResponses() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = nil
}

// GetWriteLog 获取写入日志
func (c *MockCan) GetWriteLog() []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WriteRecord{}, c.writeLog...)
}

// IsRunning 检查设备是否正在运行
func (c *MockCan) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

var _ CANDriver = (*MockCan)(nil)
