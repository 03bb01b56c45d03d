package codec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	engerrors "resengine/core/errors"
)

// Codec is the serialization capability the engine uses for substate
// payloads and call envelopes. The engine never inspects encoded bytes itself.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(b []byte, v interface{}) error
}

// RLP encodes values with go-ethereum's recursive length prefix format.
type RLP struct{}

// Default is the codec used when none is configured.
var Default Codec = RLP{}

func (RLP) Encode(v interface{}) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, engerrors.WrapInvariant(err, "rlp encode")
	}
	return b, nil
}

// Decode reports malformed input as ErrDecode. Trailing bytes are rejected.
func (RLP) Decode(b []byte, v interface{}) error {
	if err := rlp.DecodeBytes(b, v); err != nil {
		return fmt.Errorf("%w: %v", engerrors.ErrDecode, err)
	}
	return nil
}
