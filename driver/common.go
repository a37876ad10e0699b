package driver

import (
	"context"
	"errors"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

// CANDriver 定义了经典 CAN 驱动的统一接口
type CANDriver interface {
	Init() error
	Start()
	Stop()
	Write(id uint32, data []byte) error
	RxChan() <-chan canbuf.CanFrame
	Context() context.Context
}

// 缓冲区配置常量
const (
	RxChannelBufferSize = 1024
)

var (
	ErrNotRunning   = errors.New("driver: device not started")
	ErrDataTooLong  = errors.New("driver: classic CAN carries at most 8 data bytes")
	ErrDroppedFrame = errors.New("driver: rx channel full, frame dropped")
)
