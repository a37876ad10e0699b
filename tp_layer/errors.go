package tp_layer

import "errors"

// Configuration errors.
var (
	ErrIdentifier      = errors.New("isotp: identifier exceeds 29 bits")
	ErrSTmin           = errors.New("isotp: stmin must be 0..127 ms")
	ErrReassemblyLimit = errors.New("isotp: invalid reassembly limit")
	ErrTimeout         = errors.New("isotp: rx timeout must be positive")
	ErrNilTransmit     = errors.New("isotp: transmit function is nil")

	ErrUnsupportedAddressing = errors.New("isotp: addressing mode not supported")
)

// Sender side errors.
var (
	ErrPayloadEmpty    = errors.New("isotp: empty payload")
	ErrPayloadTooLong  = errors.New("isotp: payload exceeds 4095 bytes")
	ErrInvalidFC       = errors.New("isotp: invalid flow control frame")
	ErrRemoteOverflow  = errors.New("isotp: receiver reported overflow")
	ErrFlowControlWait = errors.New("isotp: maximum wait frames reached")
	ErrFlowControlTime = errors.New("isotp: flow control not received in time")
)
