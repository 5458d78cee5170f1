// Package decoder turns raw characteristic payloads into samples.
//
// Every characteristic this tool monitors is assumed to carry a single
// IEEE-754 float32 in little-endian byte order; the Registry allows a
// different Func per characteristic when a device deviates from that.
package decoder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cornelk/hashmap"
	"github.com/srg/blelog/internal/bledb"
)

// Float32Size is the payload length Float32LE requires.
const Float32Size = 4

// DecodeError reports a payload that could not be decoded.
type DecodeError struct {
	Characteristic string
	Len            int
	Want           int
}

func (e *DecodeError) Error() string {
	if e.Characteristic == "" {
		return fmt.Sprintf("decode: payload has %d bytes, need %d", e.Len, e.Want)
	}
	return fmt.Sprintf("decode %s: payload has %d bytes, need %d", e.Characteristic, e.Len, e.Want)
}

// Func decodes one payload.
type Func func(raw []byte) (float32, error)

// Float32LE decodes the first four bytes as a little-endian float32.
// Trailing bytes are ignored.
func Float32LE(raw []byte) (float32, error) {
	if len(raw) < Float32Size {
		return 0, &DecodeError{Len: len(raw), Want: Float32Size}
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(raw[:Float32Size])), nil
}

// Registry selects the decoder per characteristic UUID. The zero value is not usable; use NewRegistry.
type Registry struct {
	funcs    *hashmap.Map[string, Func]
	fallback Func
}

// NewRegistry returns a registry that decodes every characteristic with Float32LE.
func NewRegistry() *Registry {
	return &Registry{
		funcs:    hashmap.New[string, Func](),
		fallback: Float32LE,
	}
}

// Register overrides the decoder for one characteristic.
func (r *Registry) Register(characteristicUUID string, fn Func) {
	r.funcs.Set(bledb.NormalizeUUID(characteristicUUID), fn)
}

// Lookup returns the decoder for a characteristic.
func (r *Registry) Lookup(characteristicUUID string) Func {
	if fn, ok := r.funcs.Get(bledb.NormalizeUUID(characteristicUUID)); ok {
		return fn
	}
	return r.fallback
}

// Decode decodes raw with the characteristic's decoder, tagging DecodeErrors with the UUID.
func (r *Registry) Decode(characteristicUUID string, raw []byte) (float32, error) {
	v, err := r.Lookup(characteristicUUID)(raw)
	if derr, ok := err.(*DecodeError); ok && derr.Characteristic == "" {
		tagged := *derr
		tagged.Characteristic = characteristicUUID
		return 0, &tagged
	}
	return v, err
}
