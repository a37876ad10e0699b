package tp_layer

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// 流控帧 (Flow Control) 测试
// ============================================================================

func TestCreateFlowControlPayload(t *testing.T) {
	tests := []struct {
		name     string
		status   FlowStatus
		bs       uint8
		stmin    uint8
		expected [8]byte
	}{
		{"CTS 无限块", FlowStatusContinueToSend, 0, 0, [8]byte{0x30}},
		{"CTS BS=8 STmin=20ms", FlowStatusContinueToSend, 8, 0x14, [8]byte{0x30, 0x08, 0x14}},
		{"WAIT", FlowStatusWait, 8, 0x14, [8]byte{0x31}},
		{"溢出忽略BS/STmin", FlowStatusOverflow, 8, 0x14, [8]byte{0x32}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := createFlowControlPayload(tc.status, tc.bs, tc.stmin)
			if result != tc.expected {
				t.Errorf("流控帧数据不匹配\n期望: % 02X\n实际: % 02X", tc.expected, result)
			}
		})
	}
}

// ============================================================================
// 单帧 / 首帧 / 连续帧
// ============================================================================

func TestCreateSingleFrame(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		padding  byte
		expected [8]byte
	}{
		{"1字节数据", []byte{0x22}, 0x00, [8]byte{0x01, 0x22}},
		{"3字节数据 (典型UDS请求)", []byte{0x22, 0xF1, 0x90}, 0xCC,
			[8]byte{0x03, 0x22, 0xF1, 0x90, 0xCC, 0xCC, 0xCC, 0xCC}},
		{"7字节数据 (CAN最大单帧)", []byte{0x22, 0xF1, 0x90, 0x01, 0x02, 0x03, 0x04}, 0xAA,
			[8]byte{0x07, 0x22, 0xF1, 0x90, 0x01, 0x02, 0x03, 0x04}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := createSingleFramePayload(tc.data, tc.padding)
			if err != nil {
				t.Fatalf("创建单帧失败: %v", err)
			}
			if result != tc.expected {
				t.Errorf("单帧数据不匹配\n期望: % 02X\n实际: % 02X", tc.expected, result)
			}
		})
	}

	if _, err := createSingleFramePayload(make([]byte, 8), 0); err == nil {
		t.Error("8字节数据应当无法作为单帧")
	}
}

func TestCreateFirstFrame(t *testing.T) {
	chunk := []byte{0x62, 0xF1, 0x90, 0x01, 0x02, 0x03}
	result, err := createFirstFramePayload(chunk, 0x123)
	if err != nil {
		t.Fatalf("创建首帧失败: %v", err)
	}
	expected := [8]byte{0x11, 0x23, 0x62, 0xF1, 0x90, 0x01, 0x02, 0x03}
	if result != expected {
		t.Errorf("首帧数据不匹配\n期望: % 02X\n实际: % 02X", expected, result)
	}

	for _, size := range []int{7, MaxMessageLength + 1} {
		if _, err := createFirstFramePayload(chunk, size); err == nil {
			t.Errorf("长度 %d 应当报错", size)
		}
	}
	if _, err := createFirstFramePayload(chunk[:5], 20); err == nil {
		t.Error("不足6字节的首帧数据应当报错")
	}
}

func TestCreateConsecutiveFrame(t *testing.T) {
	result, err := createConsecutiveFramePayload([]byte{0x07, 0x08}, 0x0F, 0x55)
	if err != nil {
		t.Fatalf("创建连续帧失败: %v", err)
	}
	expected := [8]byte{0x2F, 0x07, 0x08, 0x55, 0x55, 0x55, 0x55, 0x55}
	if result != expected {
		t.Errorf("连续帧数据不匹配\n期望: % 02X\n实际: % 02X", expected, result)
	}
	if _, err := createConsecutiveFramePayload(nil, 16, 0); err == nil {
		t.Error("序列号16应当报错")
	}
}

// ============================================================================
// 分段
// ============================================================================

func TestSegment(t *testing.T) {
	frames, err := Segment(0x7E0, seq(0, 20), 0xCC)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	expected := [][8]byte{
		{0x10, 0x14, 0, 1, 2, 3, 4, 5},
		{0x21, 6, 7, 8, 9, 10, 11, 12},
		{0x22, 13, 14, 15, 16, 17, 18, 19},
	}
	if len(frames) != len(expected) {
		t.Fatalf("帧数=%d, 期望 %d", len(frames), len(expected))
	}
	for i, f := range frames {
		if f.ID != 0x7E0 || f.Len != 8 || f.Data != expected[i] {
			t.Errorf("第%d帧不匹配\n期望: % 02X\n实际: %s", i, expected[i], f)
		}
	}
}

func TestSegment_SingleFrame(t *testing.T) {
	frames, err := Segment(0x7E0, []byte{0x3E, 0x00}, 0xCC)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	want := [8]byte{0x02, 0x3E, 0x00, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC}
	if len(frames) != 1 || frames[0].Data != want {
		t.Fatalf("单帧不匹配: %v", frames)
	}
}

func TestSegment_SequenceWraps(t *testing.T) {
	// 6 + 16*7 字节: 第16个连续帧的序列号回绕为0
	frames, err := Segment(0x7E0, make([]byte, 6+16*7), 0)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(frames) != 17 {
		t.Fatalf("帧数=%d, 期望 17", len(frames))
	}
	if pci := frames[15].Data[0]; pci != 0x2F {
		t.Errorf("第15个CF PCI=0x%02X, 期望 0x2F", pci)
	}
	if pci := frames[16].Data[0]; pci != 0x20 {
		t.Errorf("第16个CF PCI=0x%02X, 期望 0x20", pci)
	}
}

func TestSegment_Errors(t *testing.T) {
	if _, err := Segment(0x7E0, nil, 0); !errors.Is(err, ErrPayloadEmpty) {
		t.Errorf("空报文: err=%v", err)
	}
	if _, err := Segment(0x7E0, make([]byte, MaxMessageLength+1), 0); !errors.Is(err, ErrPayloadTooLong) {
		t.Errorf("超长报文: err=%v", err)
	}
}

// ============================================================================
// 流控帧解析
// ============================================================================

func TestParseFlowControl(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    FlowControlFrame
		wantErr bool
	}{
		{"CTS", []byte{0x30, 0x02, 0x0A}, FlowControlFrame{FlowStatusContinueToSend, 2, 10 * time.Millisecond}, false},
		{"WAIT", []byte{0x31, 0x00, 0x00}, FlowControlFrame{FlowStatusWait, 0, 0}, false},
		{"OVFL", []byte{0x32, 0, 0, 0, 0, 0, 0, 0}, FlowControlFrame{FlowStatusOverflow, 0, 0}, false},
		{"微秒STmin", []byte{0x30, 0x00, 0xF3}, FlowControlFrame{FlowStatusContinueToSend, 0, 300 * time.Microsecond}, false},
		{"保留STmin", []byte{0x30, 0x00, 0x80}, FlowControlFrame{FlowStatusContinueToSend, 0, 127 * time.Millisecond}, false},
		{"长度不足", []byte{0x30, 0x00}, FlowControlFrame{}, true},
		{"非FC", []byte{0x21, 0x00, 0x00}, FlowControlFrame{}, true},
		{"未知FS", []byte{0x33, 0x00, 0x00}, FlowControlFrame{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFlowControl(tc.data)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidFC) {
					t.Fatalf("err=%v, 期望 ErrInvalidFC", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("解析失败: %v", err)
			}
			if got != tc.want {
				t.Errorf("期望: %+v\n实际: %+v", tc.want, got)
			}
		})
	}
}

func TestSegmentRoundTripThroughEngine(t *testing.T) {
	for _, size := range []int{1, 7, 8, 13, 14, 40, MaxReassembly} {
		payload := seq(0x30, size)
		frames, err := Segment(testRxID, payload, 0xCC)
		if err != nil {
			t.Fatalf("Segment(%d): %v", size, err)
		}
		e, _ := newTestEngine(t, nil)
		for _, f := range frames {
			e.OnFrame(f)
		}
		var buf [MaxReassembly]byte
		n := e.Read(buf[:])
		if !bytes.Equal(buf[:n], payload) {
			t.Errorf("长度 %d 重组不匹配\n期望: % 02X\n实际: % 02X", size, payload, buf[:n])
		}
	}
}
