// Package macauth appends and verifies truncated AES-CMAC tags on ISO-TP
// payloads, in the style of AUTOSAR SecOC.
package macauth

import (
	"crypto/aes"
	"errors"
	"fmt"

	"github.com/chmike/cmac-go"
)

// DefaultTagLength is the truncated MAC length in bytes.
const DefaultTagLength = 4

var (
	ErrTagLength = errors.New("macauth: tag length must be 1..16")
	ErrShort     = errors.New("macauth: message shorter than tag")
	ErrMismatch  = errors.New("macauth: authentication failed")
)

// Authenticator signs payloads with a fixed key. It is safe for concurrent
// use; every call builds its own CMAC state.
type Authenticator struct {
	key    []byte
	tagLen int
}

// New returns an Authenticator for a 16, 24 or 32 byte AES key.
func New(key []byte, tagLen int) (*Authenticator, error) {
	if tagLen < 1 || tagLen > aes.BlockSize {
		return nil, fmt.Errorf("%d: %w", tagLen, ErrTagLength)
	}
	// validate the key once up front
	if _, err := cmac.New(aes.NewCipher, key); err != nil {
		return nil, fmt.Errorf("macauth: %w", err)
	}
	return &Authenticator{key: append([]byte(nil), key...), tagLen: tagLen}, nil
}

// TagLen reports the number of tag bytes appended by Seal.
func (a *Authenticator) TagLen() int { return a.tagLen }

// Tag computes the truncated CMAC of payload.
func (a *Authenticator) Tag(payload []byte) []byte {
	cm, err := cmac.New(aes.NewCipher, a.key)
	if err != nil {
		// key was validated in New
		panic(err)
	}
	cm.Write(payload)
	return cm.Sum(nil)[:a.tagLen]
}

// Seal returns payload followed by its tag.
func (a *Authenticator) Seal(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+a.tagLen)
	out = append(out, payload...)
	return append(out, a.Tag(payload)...)
}

// Open verifies a sealed message and returns the payload without the tag.
// The returned slice aliases msg.
func (a *Authenticator) Open(msg []byte) ([]byte, error) {
	if len(msg) < a.tagLen {
		return nil, ErrShort
	}
	payload, tag := msg[:len(msg)-a.tagLen], msg[len(msg)-a.tagLen:]
	if !cmac.Equal(a.Tag(payload), tag) {
		return nil, ErrMismatch
	}
	return payload, nil
}
