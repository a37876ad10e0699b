package tp_layer

import (
	"fmt"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

// AddressingMode 定义了ISOTP寻址模式
type AddressingMode int

const (
	Normal11Bit      AddressingMode = iota // 11位ID，无地址扩展
	Normal29Bit                            // 29位ID，无地址扩展
	NormalFixed29Bit                       // 29位ID，目标/源地址在ID中
	Extended11Bit                          // 目标地址在数据第一字节，不支持
	Extended29Bit                          // 不支持
	Mixed11Bit                             // 不支持
	Mixed29Bit                             // 不支持
)

func (m AddressingMode) String() string {
	switch m {
	case Normal11Bit:
		return "normal-11bit"
	case Normal29Bit:
		return "normal-29bit"
	case NormalFixed29Bit:
		return "normal-fixed-29bit"
	case Extended11Bit:
		return "extended-11bit"
	case Extended29Bit:
		return "extended-29bit"
	case Mixed11Bit:
		return "mixed-11bit"
	case Mixed29Bit:
		return "mixed-29bit"
	}
	return fmt.Sprintf("AddressingMode(%d)", int(m))
}

// AddressType 定义了寻址类型：物理或功能
type AddressType int

const (
	Physical AddressType = iota
	Functional
)

// Address 描述本节点的收发标识符。
// NormalFixed29Bit 下，SourceAddress 是本节点，TargetAddress 是对端。
type Address struct {
	AddressingMode AddressingMode

	// 用于 Normal 模式
	TxID uint32
	RxID uint32

	// 用于 NormalFixed 模式
	TargetAddress byte // 对端地址 (TA)
	SourceAddress byte // 本节点地址 (SA)
}

// NewAddress 创建地址对象并校验标识符
func NewAddress(mode AddressingMode, opts ...func(*Address)) (*Address, error) {
	addr := &Address{AddressingMode: mode}
	for _, opt := range opts {
		opt(addr)
	}

	switch mode {
	case Normal11Bit:
		if addr.TxID > 0x7FF || addr.RxID > 0x7FF {
			return nil, fmt.Errorf("11位ID超出范围 (tx 0x%X, rx 0x%X): %w", addr.TxID, addr.RxID, ErrIdentifier)
		}
	case Normal29Bit:
		if addr.TxID > canbuf.MaxExtendedID || addr.RxID > canbuf.MaxExtendedID {
			return nil, fmt.Errorf("tx 0x%X, rx 0x%X: %w", addr.TxID, addr.RxID, ErrIdentifier)
		}
	case NormalFixed29Bit:
		addr.TxID = addr.GetTxArbitrationID(Physical)
		addr.RxID = fixedID(0x18DA0000, addr.SourceAddress, addr.TargetAddress)
	default:
		return nil, fmt.Errorf("%s: %w", mode, ErrUnsupportedAddressing)
	}
	return addr, nil
}

// 可选配置函数，用于 NewAddress

func WithTxID(id uint32) func(*Address)        { return func(a *Address) { a.TxID = id } }
func WithRxID(id uint32) func(*Address)        { return func(a *Address) { a.RxID = id } }
func WithTargetAddress(ta byte) func(*Address) { return func(a *Address) { a.TargetAddress = ta } }
func WithSourceAddress(sa byte) func(*Address) { return func(a *Address) { a.SourceAddress = sa } }

func fixedID(prefix uint32, ta, sa byte) uint32 {
	return prefix | uint32(ta)<<8 | uint32(sa)
}

// GetTxArbitrationID 根据寻址模式和类型（物理/功能）计算发送ID
func (a *Address) GetTxArbitrationID(addrType AddressType) uint32 {
	if a.AddressingMode != NormalFixed29Bit {
		return a.TxID
	}
	// 18DA[TA][SA] for physical, 18DB[TA][SA] for functional
	prefix := uint32(0x18DA0000)
	if addrType == Functional {
		prefix = 0x18DB0000
	}
	return fixedID(prefix, a.TargetAddress, a.SourceAddress)
}

// IsForMe 检查收到的标识符是否发给本节点
func (a *Address) IsForMe(id uint32) bool {
	if a.AddressingMode == NormalFixed29Bit && id&0xFFFF0000 == 0x18DB0000 {
		// 功能寻址：只看目标地址
		return byte(id>>8) == a.SourceAddress
	}
	return id == a.RxID
}

// Is29Bit 返回当前模式是否为29位
func (a *Address) Is29Bit() bool {
	return a.AddressingMode != Normal11Bit
}

// ReceiverConfig 把地址套用到 base 上：监听 RxID，流控发往 TxID。
func (a *Address) ReceiverConfig(base Config) Config {
	base.RxID = a.RxID
	base.FcTxID = a.TxID
	return base
}
