package tp_layer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

// Engine 是单会话 ISO-TP 接收端。
//
// 所有方法都必须在同一个上下文中调用（或由调用方串行化）。Engine 不分配内存，
// 不启动 goroutine，也不会从中止状态自动恢复：中止后只有 Reset 或新的
// SF/FF 会改变状态。新的 SF/FF 在任何状态下都覆盖当前会话，
// 未 Read 的 DONE 报文由调用方保护（见 Stack.Pump）。
type Engine struct {
	config Config
	send   TransmitFunc
	log    *zap.Logger

	rxState     Status
	expectedLen uint16
	receivedLen uint16
	rxSeqNum    uint8
	bsRemain    uint8
	timerMs     uint16

	buf   [MaxReassembly]byte
	stats Stats
}

// Option 配置 Engine 的可选项
type Option func(*Engine)

// WithLogger 设置日志记录器，默认为 zap.NewNop()
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New 创建接收引擎。ReassemblyLimit 和 RxTimeoutMs 为 0 时使用默认值。
func New(cfg Config, send TransmitFunc, opts ...Option) (*Engine, error) {
	if send == nil {
		return nil, ErrNilTransmit
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		config: cfg,
		send:   send,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(zap.String("rx_id", fmt.Sprintf("0x%X", cfg.RxID)))
	e.Reset()
	return e, nil
}

// Config 返回构造时确定的配置
func (e *Engine) Config() Config { return e.config }

// Reset 将会话恢复为 IDLE
func (e *Engine) Reset() {
	e.rxState = StatusIdle
	e.expectedLen = 0
	e.receivedLen = 0
	e.rxSeqNum = 1
	e.bsRemain = e.config.BlockSize
	e.timerMs = 0
}

// Status 返回当前会话状态
func (e *Engine) Status() Status { return e.rxState }

// Session 返回会话快照
func (e *Engine) Session() Session {
	return Session{
		Status:         e.rxState,
		ExpectedLength: e.expectedLen,
		ReceivedLength: e.receivedLen,
		NextSequence:   e.rxSeqNum,
		BlockRemaining: e.bsRemain,
		TimeoutMs:      e.timerMs,
	}
}

// Stats 返回累计计数
func (e *Engine) Stats() Stats { return e.stats }

// OnCanRx 处理一帧 CAN 报文。length 为 DLC，最多取 8 且不超过 len(data)。
// 标识符不匹配或长度为 0 的帧被忽略。
func (e *Engine) OnCanRx(id uint32, data []byte, length uint8) {
	if id != e.config.RxID {
		return
	}
	n := min(int(length), len(data), frameLength)
	if n == 0 {
		return
	}
	d := data[:n]

	switch d[0] & 0xF0 {
	case pciTypeSingleFrame:
		e.handleRxSingleFrame(d)
	case pciTypeFirstFrame:
		e.handleRxFirstFrame(d)
	case pciTypeConsecutiveFrame:
		e.handleRxConsecutiveFrame(d)
	default:
		// FC 与保留 PCI 不影响接收端
		e.stats.FramesDropped++
	}
}

// OnFrame 是 OnCanRx 的 canbuf.CanFrame 版本
func (e *Engine) OnFrame(f canbuf.CanFrame) {
	e.OnCanRx(f.ID, f.Data[:], f.Len)
}

// Tick 推进 1 毫秒。仅在 RECEIVING 状态下计时。
func (e *Engine) Tick() {
	if e.rxState != StatusReceiving || e.timerMs == 0 {
		return
	}
	e.timerMs--
	if e.timerMs == 0 {
		e.rxState = StatusAbortTimeout
		e.stats.Timeouts++
		if ce := e.log.Check(zap.WarnLevel, "consecutive frame timeout"); ce != nil {
			ce.Write(zap.Uint16("expected", e.expectedLen),
				zap.Uint16("received", e.receivedLen),
				zap.Uint8("next_sn", e.rxSeqNum))
		}
	}
}

// Read 在 DONE 状态下把报文复制到 dst 并复位会话，返回复制的字节数。
// 其它状态返回 0 且不改变状态。dst 不足时多余字节被丢弃。
func (e *Engine) Read(dst []byte) int {
	if e.rxState != StatusDone {
		return 0
	}
	n := copy(dst, e.buf[:e.receivedLen])
	e.Reset()
	return n
}
