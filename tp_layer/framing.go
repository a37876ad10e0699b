package tp_layer

import (
	"fmt"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

const (
	// pciTypeSingleFrame (SF) 是 0
	pciTypeSingleFrame = 0x00
	// pciTypeFirstFrame (FF) 是 1
	pciTypeFirstFrame = 0x10
	// pciTypeConsecutiveFrame (CF) 是 2
	pciTypeConsecutiveFrame = 0x20
	// pciTypeFlowControl (FC) 是 3
	pciTypeFlowControl = 0x30

	frameLength  = 8
	sfMaxPayload = frameLength - 1 // 7
	ffPayload    = frameLength - 2 // 6
	cfPayload    = frameLength - 1 // 7

	// MaxMessageLength 是 12 位 FF_DL 能表达的最大长度
	MaxMessageLength = 0xFFF
)

// createFlowControlPayload 创建流控帧，总是 8 字节，未用字节为 0
func createFlowControlPayload(status FlowStatus, blockSize, stMin uint8) [8]byte {
	var p [8]byte
	p[0] = pciTypeFlowControl | byte(status)
	if status == FlowStatusContinueToSend {
		p[1] = blockSize
		p[2] = stMin
	}
	return p
}

// createSingleFramePayload 创建单帧的数据负载
func createSingleFramePayload(data []byte, padding byte) ([8]byte, error) {
	var p [8]byte
	if len(data) > sfMaxPayload {
		return p, fmt.Errorf("单帧数据长度 (%d) 超过最大限制 (%d)", len(data), sfMaxPayload)
	}
	p[0] = pciTypeSingleFrame | byte(len(data))
	n := copy(p[1:], data)
	pad(p[1+n:], padding)
	return p, nil
}

// createFirstFramePayload 创建首帧的数据负载，firstChunk 最多 6 字节
func createFirstFramePayload(firstChunk []byte, totalMessageSize int) ([8]byte, error) {
	var p [8]byte
	if totalMessageSize <= sfMaxPayload || totalMessageSize > MaxMessageLength {
		return p, fmt.Errorf("首帧总长度 (%d) 不在 %d..%d 范围内", totalMessageSize, sfMaxPayload+1, MaxMessageLength)
	}
	if len(firstChunk) != ffPayload {
		return p, fmt.Errorf("首帧数据必须为 %d 字节, 实际 %d", ffPayload, len(firstChunk))
	}
	p[0] = pciTypeFirstFrame | byte(totalMessageSize>>8&0x0F)
	p[1] = byte(totalMessageSize)
	copy(p[2:], firstChunk)
	return p, nil
}

// createConsecutiveFramePayload 创建连续帧的数据负载
func createConsecutiveFramePayload(dataChunk []byte, sequenceNumber uint8, padding byte) ([8]byte, error) {
	var p [8]byte
	if sequenceNumber > 0x0F {
		return p, fmt.Errorf("序列号必须在0到15之间: %d", sequenceNumber)
	}
	if len(dataChunk) > cfPayload {
		return p, fmt.Errorf("连续帧数据长度 (%d) 超过最大限制 (%d)", len(dataChunk), cfPayload)
	}
	p[0] = pciTypeConsecutiveFrame | sequenceNumber
	n := copy(p[1:], dataChunk)
	pad(p[1+n:], padding)
	return p, nil
}

func pad(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Segment 将报文切分为经典 CAN 帧序列 (SF 或 FF + CF...)，每帧 8 字节。
// 序列号从 1 开始，15 之后回绕到 0。
func Segment(txID uint32, payload []byte, padding byte) ([]canbuf.CanFrame, error) {
	switch {
	case len(payload) == 0:
		return nil, ErrPayloadEmpty
	case len(payload) > MaxMessageLength:
		return nil, fmt.Errorf("%d bytes: %w", len(payload), ErrPayloadTooLong)
	}

	if len(payload) <= sfMaxPayload {
		p, err := createSingleFramePayload(payload, padding)
		if err != nil {
			return nil, err
		}
		return []canbuf.CanFrame{{ID: txID, Len: frameLength, Data: p}}, nil
	}

	frames := make([]canbuf.CanFrame, 0, 1+(len(payload)-ffPayload+cfPayload-1)/cfPayload)
	p, err := createFirstFramePayload(payload[:ffPayload], len(payload))
	if err != nil {
		return nil, err
	}
	frames = append(frames, canbuf.CanFrame{ID: txID, Len: frameLength, Data: p})

	rest := payload[ffPayload:]
	var sn uint8 = 1
	for len(rest) > 0 {
		n := min(len(rest), cfPayload)
		p, err := createConsecutiveFramePayload(rest[:n], sn, padding)
		if err != nil {
			return nil, err
		}
		frames = append(frames, canbuf.CanFrame{ID: txID, Len: frameLength, Data: p})
		rest = rest[n:]
		sn = (sn + 1) & 0x0F
	}
	return frames, nil
}
