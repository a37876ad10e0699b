package tp_layer

import (
	"fmt"
	"time"
)

// FlowControlFrame 是解析后的流控帧
type FlowControlFrame struct {
	FlowStatus FlowStatus
	BlockSize  uint8
	STmin      time.Duration
}

func decodeSTmin(stMinByte byte) time.Duration {
	if stMinByte <= 0x7F {
		return time.Duration(stMinByte) * time.Millisecond
	}
	if stMinByte >= 0xF1 && stMinByte <= 0xF9 {
		return time.Duration(stMinByte-0xF0) * 100 * time.Microsecond
	}
	// 保留值按最大值 127ms 处理
	return 127 * time.Millisecond
}

// ParseFlowControl 解析流控帧。非 FC 的 PCI 或未知的 FlowStatus 返回 ErrInvalidFC。
func ParseFlowControl(data []byte) (FlowControlFrame, error) {
	if len(data) < 3 {
		return FlowControlFrame{}, fmt.Errorf("FC长度不足3字节 (%d): %w", len(data), ErrInvalidFC)
	}
	if data[0]&0xF0 != pciTypeFlowControl {
		return FlowControlFrame{}, fmt.Errorf("PCI 0x%02X: %w", data[0], ErrInvalidFC)
	}
	fs := FlowStatus(data[0] & 0x0F)
	if fs > FlowStatusOverflow {
		return FlowControlFrame{}, fmt.Errorf("flow status %d: %w", fs, ErrInvalidFC)
	}
	return FlowControlFrame{
		FlowStatus: fs,
		BlockSize:  data[1],
		STmin:      decodeSTmin(data[2]),
	}, nil
}
