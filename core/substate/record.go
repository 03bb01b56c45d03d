package substate

import (
	"github.com/ethereum/go-ethereum/rlp"

	engerrors "resengine/core/errors"
	"resengine/core/types"
)

// Substate is a typed, versioned payload. Versions start at 1 on creation and
// grow by one on every committed write.
type Substate struct {
	Type    types.SubstateType
	Payload []byte
	Version uint64
}

func (s *Substate) clone() *Substate {
	if s == nil {
		return nil
	}
	return &Substate{Type: s.Type, Payload: append([]byte(nil), s.Payload...), Version: s.Version}
}

type record struct {
	Type    uint8
	Payload []byte
	Version uint64
}

func encodeRecord(s *Substate) ([]byte, error) {
	return rlp.EncodeToBytes(&record{Type: uint8(s.Type), Payload: s.Payload, Version: s.Version})
}

func decodeRecord(b []byte) (*Substate, error) {
	var rec record
	if err := rlp.DecodeBytes(b, &rec); err != nil {
		// Records are only written by this package; a bad one means the
		// database is corrupt.
		return nil, engerrors.WrapInvariant(err, "decode substate record")
	}
	return &Substate{Type: types.SubstateType(rec.Type), Payload: rec.Payload, Version: rec.Version}, nil
}
