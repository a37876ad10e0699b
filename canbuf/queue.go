// Package canbuf buffers raw CAN frames between the frame-arrival context
// and the protocol-processing context.
//
// Both queue variants own their storage from construction on and never
// resize. Neither does any locking: when producer and consumer run in
// different contexts the caller serializes access.
package canbuf

import "errors"

// DefaultCapacity is the slot count of FixedFrameQueue.
const DefaultCapacity = 3

var ErrCapacity = errors.New("canbuf: capacity must be positive")

// Queue is the contract shared by FrameQueue and FixedFrameQueue.
type Queue interface {
	Push(f CanFrame) bool
	PushRaw(id uint32, dlc uint8, data []byte) bool
	Pop() (CanFrame, bool)
	Size() int
	Cap() int
	IsEmpty() bool
	IsFull() bool
}

// ring holds the cursors; the slot storage is passed in by the owner.
type ring struct {
	head  int // next write
	tail  int // next read
	count int
}

func (r *ring) push(slots []CanFrame, id uint32, dlc uint8, data []byte) bool {
	if r.count == len(slots) {
		return false
	}
	n := int(dlc)
	if n > MaxDataLength {
		n = MaxDataLength
	}
	if n > len(data) {
		n = len(data)
	}
	s := &slots[r.head]
	s.ID = id
	s.Len = uint8(n)
	copy(s.Data[:n], data[:n])
	clear(s.Data[n:])

	r.head = (r.head + 1) % len(slots)
	r.count++
	return true
}

func (r *ring) pop(slots []CanFrame) (CanFrame, bool) {
	if r.count == 0 {
		return CanFrame{}, false
	}
	f := slots[r.tail]
	r.tail = (r.tail + 1) % len(slots)
	r.count--
	return f, true
}

// FrameQueue is a circular frame queue whose capacity is chosen at
// construction. The slot array is allocated once.
type FrameQueue struct {
	slots []CanFrame
	ring
}

// NewFrameQueue allocates a queue holding up to capacity frames.
func NewFrameQueue(capacity int) (*FrameQueue, error) {
	if capacity <= 0 {
		return nil, ErrCapacity
	}
	return &FrameQueue{slots: make([]CanFrame, capacity)}, nil
}

// Push copies f into the queue. It returns false without touching the
// queue when it is full.
func (q *FrameQueue) Push(f CanFrame) bool {
	return q.push(q.slots, f.ID, f.Len, f.Data[:])
}

// PushRaw stores a frame given as identifier, declared length and data.
// At most min(dlc, 8) bytes are copied.
func (q *FrameQueue) PushRaw(id uint32, dlc uint8, data []byte) bool {
	return q.push(q.slots, id, dlc, data)
}

// Pop removes the oldest frame. ok is false when the queue is empty.
func (q *FrameQueue) Pop() (f CanFrame, ok bool) { return q.pop(q.slots) }

func (q *FrameQueue) Size() int     { return q.count }
func (q *FrameQueue) Cap() int      { return len(q.slots) }
func (q *FrameQueue) IsEmpty() bool { return q.count == 0 }
func (q *FrameQueue) IsFull() bool  { return q.count == len(q.slots) }

// FixedFrameQueue holds DefaultCapacity frames in an inline array. The zero
// value is ready to use; it must not be copied after first use.
type FixedFrameQueue struct {
	slots [DefaultCapacity]CanFrame
	ring
}

func (q *FixedFrameQueue) Push(f CanFrame) bool {
	return q.push(q.slots[:], f.ID, f.Len, f.Data[:])
}

func (q *FixedFrameQueue) PushRaw(id uint32, dlc uint8, data []byte) bool {
	return q.push(q.slots[:], id, dlc, data)
}

func (q *FixedFrameQueue) Pop() (CanFrame, bool) { return q.pop(q.slots[:]) }

func (q *FixedFrameQueue) Size() int     { return q.count }
func (q *FixedFrameQueue) Cap() int      { return DefaultCapacity }
func (q *FixedFrameQueue) IsEmpty() bool { return q.count == 0 }
func (q *FixedFrameQueue) IsFull() bool  { return q.count == DefaultCapacity }

var (
	_ Queue = (*FrameQueue)(nil)
	_ Queue = (*FixedFrameQueue)(nil)
)
