// Package codec selects the JSON engine used to encode params and decode results.
//
// Both engines produce standard JSON; the codec byte carried in a protocol
// frame tells the peer which engine to answer with.
package codec

type CodecType byte

const (
	CodecTypeJSON  CodecType = 0
	CodecTypeSonic CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=encoding/json, 1=sonic
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeSonic {
		return &SonicCodec{}
	}

	return &JSONCodec{}
}

// ParseCodecType maps a config name to a CodecType. Unknown names fall back to JSON.
func ParseCodecType(name string) CodecType {
	if name == "sonic" {
		return CodecTypeSonic
	}
	return CodecTypeJSON
}
