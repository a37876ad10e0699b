//go:build linux

package driver

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
	"go.uber.org/zap"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

// SocketCAN 通过 Linux SocketCAN 接口收发帧。接口需预先配置并启动
// (ip link set can0 up type can bitrate 500000)。
type SocketCAN struct {
	iface string
	log   *zap.Logger

	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver

	rxChan chan canbuf.CanFrame
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewSocketCAN(iface string, log *zap.Logger) *SocketCAN {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketCAN{
		iface:  iface,
		log:    log.Named("socketcan").With(zap.String("iface", iface)),
		rxChan: make(chan canbuf.CanFrame, RxChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (a *SocketCAN) Init() error {
	conn, err := socketcan.DialContext(a.ctx, "can", a.iface)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.iface, err)
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)
	return nil
}

func (a *SocketCAN) Start() { go a.recvManager() }

func (a *SocketCAN) Stop() {
	a.once.Do(func() {
		a.cancel()
		if err := a.conn.Close(); err != nil {
			a.log.Warn("close", zap.Error(err))
		}
	})
}

func (a *SocketCAN) Write(id uint32, data []byte) error {
	if len(data) > canbuf.MaxDataLength {
		return ErrDataTooLong
	}
	frame := can.Frame{
		ID:         id,
		Length:     uint8(len(data)),
		IsExtended: id > 0x7FF,
	}
	copy(frame.Data[:], data)
	return a.tx.TransmitFrame(a.ctx, frame)
}

func (a *SocketCAN) RxChan() <-chan canbuf.CanFrame { return a.rxChan }
func (a *SocketCAN) Context() context.Context       { return a.ctx }

func (a *SocketCAN) recvManager() {
	runtime.LockOSThread()
	defer close(a.rxChan)
	for a.rx.Receive() {
		if a.rx.HasErrorFrame() {
			a.log.Debug("error frame", zap.Any("error_frame", a.rx.ErrorFrame()))
			continue
		}
		f := a.rx.Frame()
		if f.IsRemote {
			continue
		}
		frame := canbuf.NewFrame(f.ID, f.Data[:f.Length])
		select {
		case a.rxChan <- frame:
		default:
			a.log.Warn(ErrDroppedFrame.Error(), zap.Stringer("frame", frame))
		}
	}
	if err := a.rx.Err(); err != nil && a.ctx.Err() == nil {
		a.log.Error("receive", zap.Error(err))
	}
}

// FindDevices 列出名称中含 "can" 的网络接口
func FindDevices() (dev []string) {
	ifaces, _ := net.Interfaces()
	for _, i := range ifaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}

var _ CANDriver = (*SocketCAN)(nil)
