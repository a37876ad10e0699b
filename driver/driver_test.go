package driver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LoveWonYoung/isotplite/canbuf"
	"github.com/LoveWonYoung/isotplite/tp_layer"
)

func newTestAdapter(t *testing.T) (*MockCan, *Adapter) {
	t.Helper()
	dev := NewMockCan(nil)
	a, err := NewAdapter(dev, nil)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	t.Cleanup(a.Close)
	return dev, a
}

func TestAdapter_ForwardIntoStack(t *testing.T) {
	dev, a := newTestAdapter(t)

	cfg := tp_layer.DefaultConfig()
	e, err := tp_layer.New(cfg, a.TxFunc())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q, _ := canbuf.NewFrameQueue(8)
	stack := tp_layer.NewStack(q, e, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Forward(ctx, stack.Enqueue) }()

	if err := dev.InjectMessage(cfg.RxID, []byte{0x10, 0x09, 1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("inject: %v", err)
	}
	// 等待引擎发出 CTS
	var buf [tp_layer.MaxReassembly]byte
	for len(dev.GetWriteLog()) == 0 {
		stack.Pump()
		if ctx.Err() != nil {
			t.Fatal("no flow control written")
		}
		time.Sleep(time.Millisecond)
	}
	fc := dev.GetWriteLog()[0].Frame
	if fc.ID != cfg.FcTxID || fc.Data != [8]byte{0x30} || fc.Len != 8 {
		t.Fatalf("flow control mismatch: %s", fc)
	}

	if err := dev.InjectMessage(cfg.RxID, []byte{0x21, 7, 8, 9}); err != nil {
		t.Fatalf("inject: %v", err)
	}
	var n int
	for n == 0 {
		n = stack.Drain(buf[:])
		if ctx.Err() != nil {
			t.Fatal("message not reassembled")
		}
		time.Sleep(time.Millisecond)
	}
	if want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}; !bytes.Equal(buf[:n], want) {
		t.Errorf("报文不匹配\n期望: % 02X\n实际: % 02X", want, buf[:n])
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Forward: %v", err)
	}
	if fwd, dropped := a.Counts(); fwd != 2 || dropped != 0 {
		t.Errorf("forwarded=%d dropped=%d", fwd, dropped)
	}
}

func TestAdapter_TxFuncAfterStop(t *testing.T) {
	dev := NewMockCan(nil)
	a, _ := NewAdapter(dev, nil)
	tx := a.TxFunc()
	if !tx(0x7E8, [8]byte{0x30}, 8) {
		t.Fatal("write on running device refused")
	}
	a.Close()
	if tx(0x7E8, [8]byte{0x30}, 8) {
		t.Fatal("write on stopped device accepted")
	}
}

func TestAdapter_ForwardStopsOnDeviceStop(t *testing.T) {
	dev, a := newTestAdapter(t)
	done := make(chan error, 1)
	go func() { done <- a.Forward(context.Background(), func(canbuf.CanFrame) bool { return true }) }()
	dev.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after Stop")
	}
}

func TestEnqueueWithRetry(t *testing.T) {
	f := canbuf.NewFrame(0x7E0, []byte{0x01, 0x00})

	var mu sync.Mutex
	calls := 0
	flaky := func(canbuf.CanFrame) bool {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return calls == 3
	}
	if err := EnqueueWithRetry(context.Background(), flaky, f, 5, time.Millisecond); err != nil {
		t.Fatalf("err=%v", err)
	}
	if calls != 3 {
		t.Errorf("calls=%d, want 3", calls)
	}

	full := func(canbuf.CanFrame) bool { return false }
	if err := EnqueueWithRetry(context.Background(), full, f, 2, time.Millisecond); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err=%v, want ErrQueueFull", err)
	}
}

func TestMockCan_AutoResponse(t *testing.T) {
	dev, _ := newTestAdapter(t)
	dev.AddResponse(MockCANResponse{
		TriggerID:   0x7E0,
		TriggerData: []byte{0x02, 0x3E},
		ResponseID:  0x7E8,
		Response:    []byte{0x02, 0x7E, 0x00},
	})
	if err := dev.Write(0x7E0, []byte{0x02, 0x3E, 0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case f := <-dev.RxChan():
		if f.ID != 0x7E8 || !bytes.Equal(f.Payload(), []byte{0x02, 0x7E, 0x00}) {
			t.Errorf("response mismatch: %s", f)
		}
	case <-time.After(time.Second):
		t.Fatal("no auto response")
	}
	if err := dev.Write(0x7E0, make([]byte, 9)); !errors.Is(err, ErrDataTooLong) {
		t.Errorf("err=%v, want ErrDataTooLong", err)
	}
}

func TestSLCan_Encode(t *testing.T) {
	tests := []struct {
		name string
		id   uint32
		data []byte
		want string
	}{
		{"11位", 0x7E0, []byte{0x02, 0x3E, 0x00}, "t7E03023E00\r"},
		{"29位", 0x18DA10F1, []byte{0x30}, "T18DA10F1130\r"},
		{"无数据", 0x001, nil, "t0010\r"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := string(appendSLCanFrame(nil, tc.id, tc.data)); got != tc.want {
				t.Errorf("期望: %q\n实际: %q", tc.want, got)
			}
		})
	}
}

func TestSLCan_Parse(t *testing.T) {
	sl := NewSLCan(SLCanConfig{}, nil)
	// 分两次读入，含一个坏帧和一条非帧响应
	rest := sl.parse(nil, []byte("z\rt7E0302"))
	rest = sl.parse(rest, []byte("3E00\rtXYZ1\rT18DAF11081011121314151601\r"))
	if len(rest) != 0 {
		t.Fatalf("leftover %q", rest)
	}
	want := []canbuf.CanFrame{
		canbuf.NewFrame(0x7E0, []byte{0x02, 0x3E, 0x00}),
		canbuf.NewFrame(0x18DAF110, []byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x01}),
	}
	for _, w := range want {
		select {
		case f := <-sl.RxChan():
			if f != w {
				t.Errorf("期望: %s\n实际: %s", w, f)
			}
		default:
			t.Fatalf("missing frame %s", w)
		}
	}
}

func TestSLCan_DecodeErrors(t *testing.T) {
	for _, line := range []string{"t7E", "t7E09", "t7E0301", "T18DA"} {
		if _, err := decodeSLCanFrame([]byte(line)); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}
}

func TestParseHexPayload(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"22F190", []byte{0x22, 0xF1, 0x90}, false},
		{" 22 f1 90 ", []byte{0x22, 0xF1, 0x90}, false},
		{"0x22:0xF1", []byte{0x22, 0xF1}, false},
		{"", nil, true},
		{"2", nil, true},
		{"GG", nil, true},
	}
	for _, tc := range tests {
		got, err := ParseHexPayload(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: err=%v", tc.in, err)
			continue
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("%q\n期望: % 02X\n实际: % 02X", tc.in, tc.want, got)
		}
	}
}

func TestParseKey(t *testing.T) {
	if _, err := ParseKey(strings.Repeat("00", 16)); err != nil {
		t.Errorf("16 字节密钥: %v", err)
	}
	if _, err := ParseKey(strings.Repeat("00", 15)); err == nil {
		t.Error("15 字节密钥应当报错")
	}
}

func TestLoadIntelHex(t *testing.T) {
	src := ":0301000022F19059\n:02010500AABB93\n:00000001FF\n"
	start, data, err := LoadIntelHex(strings.NewReader(src), 0xFF)
	if err != nil {
		t.Fatalf("LoadIntelHex: %v", err)
	}
	want := []byte{0x22, 0xF1, 0x90, 0xFF, 0xFF, 0xAA, 0xBB}
	if start != 0x100 || !bytes.Equal(data, want) {
		t.Errorf("start=0x%X\n期望: % 02X\n实际: % 02X", start, want, data)
	}

	if _, _, err := LoadIntelHex(strings.NewReader(":00000001FF\n"), 0); err == nil {
		t.Error("empty file should fail")
	}
}
