package tp_layer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

// Stack 把帧队列和接收引擎组合在一起。
//
// Enqueue 可以在任意 goroutine 中调用（相当于中断上下文）；
// Pump、Tick、Drain 和 Run 只能在同一个处理 goroutine 中使用。
type Stack struct {
	mu      sync.Mutex
	queue   canbuf.Queue
	dropped uint64

	engine *Engine
	log    *zap.Logger
	kick   chan struct{}
	msg    [MaxReassembly]byte
}

// NewStack 创建协议栈。log 为 nil 时不记录日志。
func NewStack(q canbuf.Queue, e *Engine, log *zap.Logger) *Stack {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stack{
		queue:  q,
		engine: e,
		log:    log,
		kick:   make(chan struct{}, 1),
	}
}

// Engine 返回底层接收引擎
func (s *Stack) Engine() *Engine { return s.engine }

// Enqueue 把一帧放入队列。队列满时丢弃并返回 false。
func (s *Stack) Enqueue(f canbuf.CanFrame) bool {
	s.mu.Lock()
	ok := s.queue.Push(f)
	if !ok {
		s.dropped++
	}
	s.mu.Unlock()

	if ok {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return ok
}

// Dropped 返回因队列满而丢弃的帧数
func (s *Stack) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Pending 返回队列中等待处理的帧数
func (s *Stack) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Size()
}

func (s *Stack) pop() (canbuf.CanFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Pop()
}

// Pump 把队列中的帧交给引擎，直到队列为空或会话进入 DONE/中止状态，
// 剩余的帧留在队列中。返回处理的帧数。
func (s *Stack) Pump() int {
	n := 0
	for {
		if st := s.engine.Status(); st == StatusDone || st.Aborted() {
			return n
		}
		f, ok := s.pop()
		if !ok {
			return n
		}
		s.engine.OnFrame(f)
		n++
	}
}

// Tick 推进引擎计时 1 毫秒
func (s *Stack) Tick() { s.engine.Tick() }

// Drain 先 Pump，再在 DONE 时把报文读入 dst
func (s *Stack) Drain(dst []byte) int {
	s.Pump()
	return s.engine.Read(dst)
}

// Run 以 1ms 周期驱动引擎，直到 ctx 结束。完整报文交给 onMessage，
// 切片只在回调期间有效。会话中止时记录日志并复位。
func (s *Stack) Run(ctx context.Context, onMessage func([]byte)) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			// ticker 可能合并节拍，按实际经过的毫秒数补齐
			elapsed := now.Sub(last) / time.Millisecond
			last = last.Add(elapsed * time.Millisecond)
			for ; elapsed > 0; elapsed-- {
				s.engine.Tick()
			}
		case <-s.kick:
		}
		s.service(onMessage)
	}
}

func (s *Stack) service(onMessage func([]byte)) {
	for {
		s.Pump()
		switch st := s.engine.Status(); {
		case st == StatusDone:
			n := s.engine.Read(s.msg[:])
			if onMessage != nil {
				onMessage(s.msg[:n])
			}
		case st.Aborted():
			sess := s.engine.Session()
			s.log.Warn("session aborted, resetting",
				zap.Stringer("status", st),
				zap.Uint16("expected", sess.ExpectedLength),
				zap.Uint16("received", sess.ReceivedLength))
			s.engine.Reset()
		default:
			return
		}
	}
}
