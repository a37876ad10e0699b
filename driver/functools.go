package driver

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marcinbor85/gohex"
)

// ParseHexPayload 将十六进制字符串转换为字节，忽略空格、冒号和 "0x" 前缀。
// 例如 "22 F1 90"、"22F190"、"0x22:0xF1:0x90"。
func ParseHexPayload(hexStr string) ([]byte, error) {
	s := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(strings.TrimSpace(hexStr))
	if s == "" {
		return nil, errors.New("empty hex payload")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %w", hexStr, err)
	}
	return data, nil
}

// ParseKey 解析 16/24/32 字节的 AES 密钥
func ParseKey(hexStr string) ([]byte, error) {
	key, err := ParseHexPayload(hexStr)
	if err != nil {
		return nil, err
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, fmt.Errorf("key must be 16, 24 or 32 bytes, got %d", len(key))
}

// LoadIntelHex 读取 Intel HEX 文件，把所有数据段按地址展开为连续字节，
// 段之间的空隙用 padding 填充。
func LoadIntelHex(r io.Reader, padding byte) (start uint32, data []byte, err error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return 0, nil, fmt.Errorf("parse intel hex: %w", err)
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return 0, nil, errors.New("intel hex file contains no data")
	}
	start = segs[0].Address
	last := segs[len(segs)-1]
	end := last.Address + uint32(len(last.Data))
	return start, mem.ToBinary(start, end-start, padding), nil
}
