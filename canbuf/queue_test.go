package canbuf

import (
	"bytes"
	"errors"
	"testing"
)

func frameOf(id uint32, b ...byte) CanFrame { return NewFrame(id, b) }

// TestFrameQueue_FIFO 容量3: A,B,C 入队成功, D 失败; 出队A后 D 成功; 依次得到 B,C,D
func TestFrameQueue_FIFO(t *testing.T) {
	q, err := NewFrameQueue(3)
	if err != nil {
		t.Fatalf("NewFrameQueue: %v", err)
	}
	a, b, c, d := frameOf(0xA, 1), frameOf(0xB, 2), frameOf(0xC, 3), frameOf(0xD, 4)

	for _, f := range []CanFrame{a, b, c} {
		if !q.Push(f) {
			t.Fatalf("push %s failed", f)
		}
	}
	if !q.IsFull() || q.Size() != 3 {
		t.Fatalf("expected full queue of 3, size=%d", q.Size())
	}
	if q.Push(d) {
		t.Fatal("push on full queue should fail")
	}
	if q.Size() != 3 {
		t.Fatalf("failed push mutated size: %d", q.Size())
	}

	got, ok := q.Pop()
	if !ok || got != a {
		t.Fatalf("pop: got %s ok=%v, want %s", got, ok, a)
	}
	if !q.Push(d) {
		t.Fatal("push after pop should succeed")
	}
	for _, want := range []CanFrame{b, c, d} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("pop: got %s ok=%v, want %s", got, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("pop on empty queue should fail")
	}
	if !q.IsEmpty() {
		t.Fatal("queue should be empty")
	}
}

func TestFrameQueue_SizeTracksPushPop(t *testing.T) {
	const capacity = 5
	q, _ := NewFrameQueue(capacity)
	pushed, popped := 0, 0
	// 交替模式覆盖多次回绕
	pattern := []int{3, 2, 4, 1, 5, 5, 2, 3}
	for i, n := range pattern {
		for j := 0; j < n; j++ {
			if i%2 == 0 {
				if q.Push(frameOf(uint32(pushed), byte(pushed))) {
					pushed++
				} else if q.Size() != capacity {
					t.Fatalf("push failed with size %d", q.Size())
				}
			} else {
				if f, ok := q.Pop(); ok {
					if f.ID != uint32(popped) {
						t.Fatalf("order broken: got id %d want %d", f.ID, popped)
					}
					popped++
				} else if q.Size() != 0 {
					t.Fatalf("pop failed with size %d", q.Size())
				}
			}
			if q.Size() != pushed-popped {
				t.Fatalf("size=%d, want %d", q.Size(), pushed-popped)
			}
		}
	}
}

func TestFrameQueue_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := NewFrameQueue(c); !errors.Is(err, ErrCapacity) {
			t.Errorf("capacity %d: err=%v, want ErrCapacity", c, err)
		}
	}
}

func TestFixedFrameQueue_ZeroValue(t *testing.T) {
	var q FixedFrameQueue
	if q.Cap() != DefaultCapacity || !q.IsEmpty() {
		t.Fatalf("zero value: cap=%d empty=%v", q.Cap(), q.IsEmpty())
	}
	for i := 0; i < DefaultCapacity; i++ {
		if !q.Push(frameOf(uint32(i), byte(i))) {
			t.Fatalf("push %d failed", i)
		}
	}
	if q.Push(frameOf(0x99)) {
		t.Fatal("push on full fixed queue should fail")
	}
	for i := 0; i < DefaultCapacity; i++ {
		f, ok := q.Pop()
		if !ok || f.ID != uint32(i) {
			t.Fatalf("pop %d: got %s ok=%v", i, f, ok)
		}
	}
}

func TestPushRaw_ClampsLength(t *testing.T) {
	tests := []struct {
		name    string
		dlc     uint8
		data    []byte
		wantLen uint8
	}{
		{"dlc within data", 3, []byte{1, 2, 3, 4}, 3},
		{"dlc above 8", 12, bytes.Repeat([]byte{0xAA}, 12), 8},
		{"dlc above data", 6, []byte{1, 2}, 2},
		{"zero length", 0, nil, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var q FixedFrameQueue
			if !q.PushRaw(0x7E0, tc.dlc, tc.data) {
				t.Fatal("push failed")
			}
			f, _ := q.Pop()
			if f.Len != tc.wantLen {
				t.Fatalf("len=%d, want %d", f.Len, tc.wantLen)
			}
			if !bytes.Equal(f.Payload(), tc.data[:tc.wantLen]) {
				t.Errorf("payload mismatch\n期望: % 02X\n实际: % 02X", tc.data[:tc.wantLen], f.Payload())
			}
		})
	}
}

func TestPush_NoStaleBytes(t *testing.T) {
	q, _ := NewFrameQueue(1)
	q.Push(frameOf(1, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF))
	q.Pop()
	q.Push(frameOf(2, 0x01))
	f, _ := q.Pop()
	want := [8]byte{0x01}
	if f.Data != want {
		t.Fatalf("slot not cleared: % 02X", f.Data)
	}
}

func TestFrame_String(t *testing.T) {
	if got := frameOf(0x7E0, 0x03, 0x11).String(); got != "7E0 [2] 03 11" {
		t.Errorf("String()=%q", got)
	}
	if got := frameOf(0x18DAF110).String(); got != "18DAF110 [0]" {
		t.Errorf("String()=%q", got)
	}
}

func BenchmarkFrameQueue_PushPop(b *testing.B) {
	q, _ := NewFrameQueue(16)
	f := frameOf(0x7E0, 0x21, 1, 2, 3, 4, 5, 6, 7)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		q.Push(f)
		q.Pop()
	}
}
