package main

/*
#include <stdint.h>
#include <stdbool.h>
#include <stdlib.h>

// Tx callback: hand one CAN frame to the host driver.
// Returns true if the driver accepted the frame.
// It is invoked after the library lock is released, so it may call back
// into any Go* export.
typedef bool (*TxCallback)(uint32_t id, const uint8_t* data, uint8_t len);

static bool call_tx_callback(TxCallback cb, uint32_t id, const uint8_t* data, uint8_t len) {
    if (cb == NULL) {
        return false;
    }
    return cb(id, data, len);
}
*/
import "C"
import (
	"sync"
	"unsafe"

	"github.com/LoveWonYoung/isotplite/canbuf"
	"github.com/LoveWonYoung/isotplite/tp_layer"
)

// Global state
var (
	mu         sync.Mutex
	stack      *tp_layer.Stack
	txCallback C.TxCallback
	// 持锁期间引擎发出的帧，解锁后再交给主机
	pending []txFrame
)

type txFrame struct {
	id     uint32
	data   [8]byte
	length uint8
}

// txSink 把一帧交给主机回调，调用时不持有 mu
var txSink = func(f txFrame) bool {
	mu.Lock()
	cb := txCallback
	mu.Unlock()
	return bool(C.call_tx_callback(cb, C.uint32_t(f.id), (*C.uint8_t)(unsafe.Pointer(&f.data[0])), C.uint8_t(f.length)))
}

// queueTx 是引擎的 TransmitFunc，只在持有 mu 时被调用。
// 帧总是被接受，主机的返回值在 flush 时才知道。
func queueTx(id uint32, data [8]byte, length uint8) bool {
	pending = append(pending, txFrame{id: id, data: data, length: length})
	return true
}

// takePending 取出待发帧，调用方持有 mu
func takePending() []txFrame {
	if len(pending) == 0 {
		return nil
	}
	out := append([]txFrame(nil), pending...)
	pending = pending[:0]
	return out
}

// flush 在释放 mu 之后按顺序发送
func flush(frames []txFrame) {
	for _, f := range frames {
		txSink(f)
	}
}

// GoInitTp creates the receive engine.
// rxID: CAN ID to listen on. fcID: CAN ID for flow control frames.
// queueCap: frame queue slots (0 for the default 3).
// returns 0 on success, -1 on invalid configuration.
//
//export GoInitTp
func GoInitTp(rxID, fcID C.uint32_t, stmin, blockSize C.uint8_t, limit C.uint16_t, queueCap C.int, cb C.TxCallback) C.int {
	mu.Lock()
	defer mu.Unlock()

	cfg := tp_layer.DefaultConfig()
	cfg.RxID = uint32(rxID)
	cfg.FcTxID = uint32(fcID)
	cfg.STmin = uint8(stmin)
	cfg.BlockSize = uint8(blockSize)
	cfg.ReassemblyLimit = uint16(limit)

	e, err := tp_layer.New(cfg, queueTx)
	if err != nil {
		return -1
	}
	var q canbuf.Queue = &canbuf.FixedFrameQueue{}
	if queueCap > 0 {
		fq, err := canbuf.NewFrameQueue(int(queueCap))
		if err != nil {
			return -1
		}
		q = fq
	}
	txCallback = cb
	pending = pending[:0]
	stack = tp_layer.NewStack(q, e, nil)
	return 0
}

// GoInputCanFrame queues one received frame. Safe to call from the host's
// receive thread. returns 1 if queued, 0 if dropped.
//
//export GoInputCanFrame
func GoInputCanFrame(id C.uint32_t, data *C.uint8_t, length C.uint8_t) C.int {
	if data == nil {
		return 0
	}
	n := min(int(length), canbuf.MaxDataLength)
	if inputFrame(uint32(id), unsafe.Slice((*byte)(unsafe.Pointer(data)), n)) {
		return 1
	}
	return 0
}

func inputFrame(id uint32, data []byte) bool {
	mu.Lock()
	s := stack
	mu.Unlock()
	if s == nil {
		return false
	}
	return s.Enqueue(canbuf.NewFrame(id, data))
}

// GoTick feeds queued frames to the engine and advances its timer by one
// millisecond. Call once per millisecond.
//
//export GoTick
func GoTick() {
	mu.Lock()
	if stack == nil {
		mu.Unlock()
		return
	}
	stack.Pump()
	stack.Tick()
	out := takePending()
	mu.Unlock()
	flush(out)
}

// GoRecvTp copies a completed message into buffer.
// returns the number of bytes written, or 0 if no message is ready.
//
//export GoRecvTp
func GoRecvTp(buffer *C.uint8_t, capacity C.int) C.int {
	if buffer == nil || capacity <= 0 {
		return 0
	}
	return C.int(recv(unsafe.Slice((*byte)(unsafe.Pointer(buffer)), int(capacity))))
}

func recv(dst []byte) int {
	mu.Lock()
	if stack == nil {
		mu.Unlock()
		return 0
	}
	n := stack.Drain(dst)
	out := takePending()
	mu.Unlock()
	flush(out)
	return n
}

// GoStatusTp returns the session status: 0 idle, 1 receiving, 2 done,
// 3 overflow, 4 timeout, -1 not initialized.
//
//export GoStatusTp
func GoStatusTp() C.int {
	mu.Lock()
	defer mu.Unlock()
	if stack == nil {
		return -1
	}
	return C.int(stack.Engine().Status())
}

//export GoResetTp
func GoResetTp() {
	mu.Lock()
	defer mu.Unlock()
	if stack != nil {
		stack.Engine().Reset()
	}
}

//export GoCloseTp
func GoCloseTp() {
	mu.Lock()
	defer mu.Unlock()
	stack = nil
	txCallback = nil
	pending = nil
}

func main() {
	// Need a main function for buildmode=c-shared
}
