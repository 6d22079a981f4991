package state

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionExists         = errors.New("position already exists")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInsufficientDebt       = errors.New("insufficient debt")
)

// Position is one owner's collateral+debt record (a "kasa").
// At most one open position per owner. A position with zero debt is
// closed; a position must never hold debt against zero collateral.
type Position struct {
	Owner      uuid.UUID
	Collateral uint64 // collateral units held against this position
	Debt       uint64 // outstanding debt-token units owed
}

// CanonicalBytes returns deterministic serialization for hashing.
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 32)

	// owner (16 bytes UUID binary)
	buf = append(buf, p.Owner[:]...)

	// collateral (8 bytes LE)
	buf = appendUint64LE(buf, p.Collateral)

	// debt (8 bytes LE)
	buf = appendUint64LE(buf, p.Debt)

	return buf
}

func appendUint64LE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
