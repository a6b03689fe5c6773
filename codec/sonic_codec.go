package codec

import (
	"github.com/bytedance/sonic"
)

// SonicCodec uses bytedance/sonic in its encoding/json compatible mode.
// Faster on large result sets; falls back to encoding/json on unsupported platforms.
type SonicCodec struct{}

func (c *SonicCodec) Encode(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

func (c *SonicCodec) Decode(data []byte, v any) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}

func (c *SonicCodec) Type() CodecType {
	return CodecTypeSonic
}
