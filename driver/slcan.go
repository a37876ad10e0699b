package driver

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

// SLCanConfig 描述串口 SLCAN 适配器 (CANable 等)
type SLCanConfig struct {
	Port     string
	Baudrate int
	// Bitrate 是 CAN 总线速率 (kbit/s)
	Bitrate int
}

var slcanBitrates = map[int]string{
	10: "S0", 20: "S1", 50: "S2", 100: "S3", 125: "S4",
	250: "S5", 500: "S6", 750: "S7", 1000: "S8",
}

// SLCan 通过 go.bug.st/serial 驱动 SLCAN ASCII 协议
type SLCan struct {
	cfg  SLCanConfig
	log  *zap.Logger
	port serial.Port

	mu      sync.Mutex
	outBuf  []byte
	rxChan  chan canbuf.CanFrame
	ctx     context.Context
	cancel  context.CancelFunc
	stopped sync.Once
}

func NewSLCan(cfg SLCanConfig, log *zap.Logger) *SLCan {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = 115200
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SLCan{
		cfg:    cfg,
		log:    log.Named("slcan"),
		outBuf: make([]byte, 0, 32),
		rxChan: make(chan canbuf.CanFrame, RxChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Init 打开串口并设置总线速率
func (sl *SLCan) Init() error {
	speed, ok := slcanBitrates[sl.cfg.Bitrate]
	if !ok {
		return fmt.Errorf("unsupported SLCAN bitrate %d kbit/s", sl.cfg.Bitrate)
	}
	mode := &serial.Mode{
		BaudRate: sl.cfg.Baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(sl.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q: %w", sl.cfg.Port, err)
	}
	if err := p.SetReadTimeout(3 * time.Millisecond); err != nil {
		p.Close()
		return err
	}
	sl.port = p
	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	// 先关闭通道再设置速率
	for _, cmd := range []string{"C", speed} {
		if _, err := p.Write([]byte(cmd + "\r")); err != nil {
			p.Close()
			return fmt.Errorf("failed to write to com port: %w", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Start 打开 CAN 通道并启动接收 goroutine
func (sl *SLCan) Start() {
	if _, err := sl.port.Write([]byte("O\r")); err != nil {
		sl.log.Error("failed to open channel", zap.Error(err))
	}
	go sl.recvManager()
}

// Stop 关闭 CAN 通道和串口
func (sl *SLCan) Stop() {
	sl.stopped.Do(func() {
		sl.cancel()
		sl.mu.Lock()
		sl.port.Write([]byte("C\r"))
		sl.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		if err := sl.port.Close(); err != nil {
			sl.log.Warn("close port", zap.Error(err))
		}
	})
}

func (sl *SLCan) Write(id uint32, data []byte) error {
	if len(data) > canbuf.MaxDataLength {
		return ErrDataTooLong
	}
	if sl.ctx.Err() != nil {
		return ErrNotRunning
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.outBuf = appendSLCanFrame(sl.outBuf[:0], id, data)
	if _, err := sl.port.Write(sl.outBuf); err != nil {
		return fmt.Errorf("failed to write to com port: %w", err)
	}
	return nil
}

func (sl *SLCan) RxChan() <-chan canbuf.CanFrame { return sl.rxChan }
func (sl *SLCan) Context() context.Context       { return sl.ctx }

func (sl *SLCan) recvManager() {
	defer close(sl.rxChan)
	buf := make([]byte, 0, 64)
	readBuf := make([]byte, 32)
	for sl.ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if sl.ctx.Err() == nil {
				sl.log.Error("failed to read com port", zap.Error(err))
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(buf, readBuf[:n])
	}
}

// parse 处理读到的数据，返回未完成的部分
func (sl *SLCan) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case '\r':
			if len(buf) == 0 {
				continue
			}
			if buf[0] == 't' || buf[0] == 'T' {
				f, err := decodeSLCanFrame(buf)
				if err != nil {
					sl.log.Warn("bad frame", zap.ByteString("line", buf), zap.Error(err))
				} else {
					select {
					case sl.rxChan <- f:
					default:
						sl.log.Warn(ErrDroppedFrame.Error(), zap.Stringer("frame", f))
					}
				}
			}
			buf = buf[:0]
		case 0x07: // BEL: 命令被拒绝
			sl.log.Warn("adapter rejected command")
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

// appendSLCanFrame 编码为 't'+3位ID 或 'T'+8位ID，然后是 DLC、数据和 '\r'
func appendSLCanFrame(buf []byte, id uint32, data []byte) []byte {
	if id > 0x7FF {
		buf = append(buf, 'T')
		for shift := 28; shift >= 0; shift -= 4 {
			buf = append(buf, nybbleToHex(byte(id>>shift)&0xF))
		}
	} else {
		buf = append(buf, 't',
			nybbleToHex(byte(id>>8)&0xF), nybbleToHex(byte(id>>4)&0xF), nybbleToHex(byte(id)&0xF))
	}
	buf = append(buf, nybbleToHex(byte(len(data))))
	for _, b := range data {
		buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b&0xF))
	}
	return append(buf, '\r')
}

func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

func decodeSLCanFrame(line []byte) (canbuf.CanFrame, error) {
	idLen := 3
	if line[0] == 'T' {
		idLen = 8
	}
	if len(line) < 2+idLen {
		return canbuf.CanFrame{}, fmt.Errorf("short frame %q", line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return canbuf.CanFrame{}, fmt.Errorf("failed to decode identifier: %w", err)
	}
	dlc, err := strconv.ParseUint(string(line[1+idLen:2+idLen]), 16, 8)
	if err != nil {
		return canbuf.CanFrame{}, fmt.Errorf("failed to decode data length: %w", err)
	}
	if dlc > canbuf.MaxDataLength {
		return canbuf.CanFrame{}, fmt.Errorf("invalid data length: %d", dlc)
	}
	body := line[2+idLen:]
	if len(body) < int(dlc)*2 {
		return canbuf.CanFrame{}, fmt.Errorf("frame body too short for dlc %d", dlc)
	}
	var f canbuf.CanFrame
	if _, err := hex.Decode(f.Data[:dlc], body[:dlc*2]); err != nil {
		return canbuf.CanFrame{}, fmt.Errorf("failed to decode frame body: %w", err)
	}
	f.ID = uint32(id)
	f.Len = uint8(dlc)
	return f, nil
}

var _ CANDriver = (*SLCan)(nil)
