package tp_layer

import "fmt"

// Status 定义了接收会话的状态
type Status uint8

const (
	StatusIdle          Status = iota // 空闲，可接收 SF/FF
	StatusReceiving                   // 已接受 FF，等待 CF
	StatusDone                        // 报文完整，等待 Read
	StatusAbortOverflow               // 长度超过再组装上限
	StatusAbortTimeout                // 等待 CF 超时
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusReceiving:
		return "RECEIVING"
	case StatusDone:
		return "DONE"
	case StatusAbortOverflow:
		return "ABORT_OVERFLOW"
	case StatusAbortTimeout:
		return "ABORT_TIMEOUT"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Aborted reports whether s is one of the terminal failure states.
func (s Status) Aborted() bool {
	return s == StatusAbortOverflow || s == StatusAbortTimeout
}

// FlowStatus 定义了流控帧的状态。
type FlowStatus uint8

const (
	FlowStatusContinueToSend FlowStatus = 0x00
	FlowStatusWait           FlowStatus = 0x01
	FlowStatusOverflow       FlowStatus = 0x02
)

// TransmitFunc hands one frame to the lower layer. data always holds 8
// bytes; length is the DLC. The result only reports local acceptance.
type TransmitFunc func(id uint32, data [8]byte, length uint8) bool

// Session is a snapshot of the single in-flight reassembly.
type Session struct {
	Status         Status
	ExpectedLength uint16
	ReceivedLength uint16
	NextSequence   uint8
	BlockRemaining uint8
	TimeoutMs      uint16
}

// Stats counts engine events since construction.
type Stats struct {
	FramesAccepted uint32
	FramesDropped  uint32
	FlowControls   uint32
	TxRefused      uint32
	Completed      uint32
	Overflows      uint32
	Timeouts       uint32
}
