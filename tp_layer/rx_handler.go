package tp_layer

import "go.uber.org/zap"

// 热路径上的日志都先 Check，禁用的级别不构造字段，保证接收过程零分配。

// replacing 报告一个新的 SF/FF 正在覆盖未完成的会话
func (e *Engine) replacing(msg string) {
	if e.rxState != StatusReceiving {
		return
	}
	if ce := e.log.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(zap.Uint16("received", e.receivedLen), zap.Uint16("expected", e.expectedLen))
	}
}

// SF 在任何状态下都覆盖当前会话。声明长度为 0 的 SF 得到一条空报文。
func (e *Engine) handleRxSingleFrame(d []byte) {
	dl := uint16(d[0] & 0x0F)
	if int(dl) > len(d)-1 {
		e.stats.FramesDropped++
		return
	}
	e.replacing("single frame replaces session in progress")
	e.stats.FramesAccepted++

	e.timerMs = 0
	if dl > e.config.ReassemblyLimit {
		e.expectedLen = dl
		e.receivedLen = 0
		e.abortOverflow()
		return
	}
	copy(e.buf[:], d[1:1+dl])
	e.expectedLen = dl
	e.receivedLen = dl
	e.complete()
}

// FF 在任何状态下都重新开始会话，包括 DONE 和中止状态。
func (e *Engine) handleRxFirstFrame(d []byte) {
	// 经典 CAN 的首帧必须是 8 字节
	if len(d) != frameLength {
		e.stats.FramesDropped++
		return
	}
	total := uint16(d[0]&0x0F)<<8 | uint16(d[1])
	if total == 0 {
		// 长度为 0 是 >4095 字节的转义格式，不支持
		e.stats.FramesDropped++
		return
	}
	e.replacing("first frame replaces session in progress")
	e.stats.FramesAccepted++

	e.expectedLen = total
	if total > e.config.ReassemblyLimit {
		e.receivedLen = 0
		e.timerMs = 0
		e.sendFlowControl(FlowStatusOverflow)
		e.abortOverflow()
		return
	}

	// 声明长度小于 6 时只保留声明的字节，完成由下一个 CF 触发
	n := min(ffPayload, total)
	copy(e.buf[:], d[2:2+n])
	e.receivedLen = n
	e.rxSeqNum = 1
	e.bsRemain = e.config.BlockSize
	e.timerMs = e.config.RxTimeoutMs
	e.rxState = StatusReceiving
	e.sendFlowControl(FlowStatusContinueToSend)
}

func (e *Engine) handleRxConsecutiveFrame(d []byte) {
	if e.rxState != StatusReceiving {
		e.stats.FramesDropped++
		return
	}
	sn := d[0] & 0x0F
	if sn != e.rxSeqNum {
		// 乱序帧直接丢弃，会话保持，等待正确序列号或超时
		e.stats.FramesDropped++
		if ce := e.log.Check(zap.DebugLevel, "consecutive frame out of sequence"); ce != nil {
			ce.Write(zap.Uint8("want", e.rxSeqNum), zap.Uint8("got", sn))
		}
		return
	}
	e.stats.FramesAccepted++

	n := min(uint16(len(d)-1), e.expectedLen-e.receivedLen)
	if e.receivedLen+n > e.config.ReassemblyLimit {
		e.abortOverflow()
		return
	}
	copy(e.buf[e.receivedLen:], d[1:1+n])
	e.receivedLen += n

	if e.receivedLen >= e.expectedLen {
		e.timerMs = 0
		e.complete()
		return
	}

	e.rxSeqNum = (e.rxSeqNum + 1) & 0x0F
	if e.config.BlockSize != 0 {
		if e.bsRemain > 0 {
			e.bsRemain--
		}
		if e.bsRemain == 0 {
			e.bsRemain = e.config.BlockSize
			e.sendFlowControl(FlowStatusContinueToSend)
		}
	}
	e.timerMs = e.config.RxTimeoutMs
}

func (e *Engine) complete() {
	e.rxState = StatusDone
	e.stats.Completed++
	if ce := e.log.Check(zap.DebugLevel, "message complete"); ce != nil {
		ce.Write(zap.Uint16("length", e.receivedLen))
	}
}

func (e *Engine) abortOverflow() {
	e.rxState = StatusAbortOverflow
	e.timerMs = 0
	e.stats.Overflows++
	if ce := e.log.Check(zap.WarnLevel, "message exceeds reassembly limit"); ce != nil {
		ce.Write(zap.Uint16("length", e.expectedLen), zap.Uint16("limit", e.config.ReassemblyLimit))
	}
}

// sendFlowControl 发送流控帧到 FcTxID。发送失败只计数和记录，不改变会话状态。
func (e *Engine) sendFlowControl(status FlowStatus) {
	payload := createFlowControlPayload(status, e.config.BlockSize, e.config.STmin)
	e.stats.FlowControls++
	if !e.send(e.config.FcTxID, payload, frameLength) {
		e.stats.TxRefused++
		if ce := e.log.Check(zap.WarnLevel, "flow control not accepted by transmitter"); ce != nil {
			ce.Write(zap.Uint8("flow_status", uint8(status)))
		}
	}
}
