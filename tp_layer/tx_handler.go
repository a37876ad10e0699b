package tp_layer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

const (
	// DefaultTimeoutBs 是等待流控帧的 N_Bs 超时
	DefaultTimeoutBs = time.Second
	// DefaultMaxWaitFrames 是连续 WAIT 流控帧的上限
	DefaultMaxWaitFrames = 20
)

// FrameWriter 把一帧交给总线或队列
type FrameWriter func(ctx context.Context, f canbuf.CanFrame) error

// Sender 发送一条完整报文，并按接收端的流控 (CTS/WAIT/OVFL, BS, STmin) 调整节奏。
// 每个 Sender 同时只能执行一次 Send。
type Sender struct {
	TxID          uint32
	Padding       byte
	TimeoutBs     time.Duration
	MaxWaitFrames int

	write FrameWriter
	log   *zap.Logger
}

func NewSender(txID uint32, write FrameWriter, log *zap.Logger) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{
		TxID:          txID,
		TimeoutBs:     DefaultTimeoutBs,
		MaxWaitFrames: DefaultMaxWaitFrames,
		write:         write,
		log:           log,
	}
}

// Send 分段发送 payload。多帧报文在首帧之后从 fc 读取流控帧，
// 非流控帧被忽略。
func (s *Sender) Send(ctx context.Context, payload []byte, fc <-chan canbuf.CanFrame) error {
	frames, err := Segment(s.TxID, payload, s.Padding)
	if err != nil {
		return err
	}
	if err := s.write(ctx, frames[0]); err != nil {
		return fmt.Errorf("write first frame: %w", err)
	}
	cfs := frames[1:]
	if len(cfs) > 0 {
		s.log.Debug("first frame sent, waiting for flow control",
			zap.Int("length", len(payload)), zap.Int("consecutive", len(cfs)))
	}

	for len(cfs) > 0 {
		ctrl, err := s.awaitFlowControl(ctx, fc)
		if err != nil {
			return err
		}
		n := len(cfs)
		if ctrl.BlockSize > 0 {
			n = min(n, int(ctrl.BlockSize))
		}
		for i := 0; i < n; i++ {
			if i > 0 && ctrl.STmin > 0 {
				if err := sleep(ctx, ctrl.STmin); err != nil {
					return err
				}
			}
			if err := s.write(ctx, cfs[i]); err != nil {
				return fmt.Errorf("write consecutive frame %d: %w", len(frames)-len(cfs)+i, err)
			}
		}
		cfs = cfs[n:]
	}
	return nil
}

func (s *Sender) awaitFlowControl(ctx context.Context, fc <-chan canbuf.CanFrame) (FlowControlFrame, error) {
	timeout := s.TimeoutBs
	if timeout <= 0 {
		timeout = DefaultTimeoutBs
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	waits := 0
	for {
		select {
		case <-ctx.Done():
			return FlowControlFrame{}, ctx.Err()
		case <-timer.C:
			return FlowControlFrame{}, ErrFlowControlTime
		case f, ok := <-fc:
			if !ok {
				return FlowControlFrame{}, ErrFlowControlTime
			}
			ctrl, err := ParseFlowControl(f.Payload())
			if err != nil {
				s.log.Debug("ignoring frame while waiting for flow control", zap.Stringer("frame", f))
				continue
			}
			switch ctrl.FlowStatus {
			case FlowStatusContinueToSend:
				return ctrl, nil
			case FlowStatusOverflow:
				return FlowControlFrame{}, ErrRemoteOverflow
			case FlowStatusWait:
				waits++
				if waits > s.MaxWaitFrames {
					return FlowControlFrame{}, ErrFlowControlWait
				}
				timer.Reset(timeout)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
