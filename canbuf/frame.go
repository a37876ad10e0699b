package canbuf

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// MaxDataLength 经典 CAN 帧的最大数据长度
const MaxDataLength = 8

// MaxExtendedID is the largest 29-bit identifier.
const MaxExtendedID = 0x1FFFFFFF

// CanFrame 是一个原始 CAN 报文，按值在队列中拷入拷出，不共享底层数组。
type CanFrame struct {
	ID   uint32 // 11-bit or 29-bit identifier
	Len  uint8  // 0..8
	Data [MaxDataLength]byte
}

// NewFrame copies at most 8 bytes of data into a frame. Len records the
// declared length clamped to 8.
func NewFrame(id uint32, data []byte) CanFrame {
	f := CanFrame{ID: id & MaxExtendedID}
	n := copy(f.Data[:], data)
	f.Len = uint8(n)
	return f
}

// Payload returns the valid bytes of the frame.
func (f *CanFrame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLength {
		n = MaxDataLength
	}
	return f.Data[:n]
}

// String 返回 "7E0 [3] 03 11 22" 形式的文本
func (f CanFrame) String() string {
	var out strings.Builder
	if f.ID > 0x7FF {
		fmt.Fprintf(&out, "%08X", f.ID)
	} else {
		fmt.Fprintf(&out, "%03X", f.ID)
	}
	fmt.Fprintf(&out, " [%d]", f.Len)
	for _, b := range f.Payload() {
		fmt.Fprintf(&out, " %02X", b)
	}
	return out.String()
}

var (
	idColor   = color.New(color.FgGreen).SprintfFunc()
	lenColor  = color.New(color.FgHiBlue).SprintfFunc()
	dataColor = color.New(color.FgYellow).SprintfFunc()
)

// ColorString is String with terminal colors, used for trace output.
func (f CanFrame) ColorString() string {
	var hexView strings.Builder
	for i, b := range f.Payload() {
		if i > 0 {
			hexView.WriteByte(' ')
		}
		fmt.Fprintf(&hexView, "%02X", b)
	}
	id := fmt.Sprintf("%03X", f.ID)
	if f.ID > 0x7FF {
		id = fmt.Sprintf("%08X", f.ID)
	}
	return idColor("%s", id) + " || " + lenColor("[%d]", f.Len) + " || " + dataColor("%-23s", hexView.String())
}
