package codec

import (
	"bytes"

	"github.com/tailscale/hujson"
)

// Standardize accepts loosely formatted JSON (comments, trailing commas) and
// returns strict JSON. The input slice is never modified.
func Standardize(data []byte) ([]byte, error) {
	return hujson.Standardize(bytes.Clone(data))
}
