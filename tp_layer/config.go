package tp_layer

import (
	"fmt"

	"github.com/LoveWonYoung/isotplite/canbuf"
)

const (
	// MaxReassembly is the fixed capacity of the reassembly buffer.
	MaxReassembly = 64
	// DefaultRxTimeoutMs is the N_Cr window: how long the receiver waits for
	// the next Consecutive Frame.
	DefaultRxTimeoutMs = 1000
	// MaxSTmin is the largest millisecond STmin encoding. The 0xF1..0xF9
	// microsecond range is not emitted.
	MaxSTmin = 0x7F
)

// Config defines the receiver parameters. It is copied into the Engine at
// construction and never changes afterwards.
type Config struct {
	RxID   uint32 // identifier the engine listens on
	FcTxID uint32 // identifier Flow Control frames are sent to

	STmin     uint8 // 0..127 ms, advertised in every CTS
	BlockSize uint8 // 0 = unlimited, else CFs per CTS

	// ReassemblyLimit caps the accepted message length, at most MaxReassembly.
	ReassemblyLimit uint16

	// RxTimeoutMs is counted down by Tick while receiving.
	RxTimeoutMs uint16
}

// DefaultConfig returns a physical-request receiver on 0x7E0 answering
// Flow Control on 0x7E8.
func DefaultConfig() Config {
	return Config{
		RxID:            0x7E0,
		FcTxID:          0x7E8,
		STmin:           0,
		BlockSize:       0, // BlockSize 0 means unlimited
		ReassemblyLimit: MaxReassembly,
		RxTimeoutMs:     DefaultRxTimeoutMs,
	}
}

// Validate checks the ranges of every field.
func (c *Config) Validate() error {
	if c.RxID > canbuf.MaxExtendedID {
		return fmt.Errorf("rx id 0x%X: %w", c.RxID, ErrIdentifier)
	}
	if c.FcTxID > canbuf.MaxExtendedID {
		return fmt.Errorf("fc id 0x%X: %w", c.FcTxID, ErrIdentifier)
	}
	if c.STmin > MaxSTmin {
		return fmt.Errorf("stmin 0x%02X: %w", c.STmin, ErrSTmin)
	}
	if c.ReassemblyLimit == 0 || c.ReassemblyLimit > MaxReassembly {
		return fmt.Errorf("reassembly limit %d (max %d): %w", c.ReassemblyLimit, MaxReassembly, ErrReassemblyLimit)
	}
	if c.RxTimeoutMs == 0 {
		return ErrTimeout
	}
	return nil
}

// withDefaults fills zero limit and timeout with the defaults.
func (c Config) withDefaults() Config {
	if c.ReassemblyLimit == 0 {
		c.ReassemblyLimit = MaxReassembly
	}
	if c.RxTimeoutMs == 0 {
		c.RxTimeoutMs = DefaultRxTimeoutMs
	}
	return c
}
