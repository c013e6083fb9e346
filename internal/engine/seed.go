package engine

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// TieBreakInput is everything a seed source may commit to when a market
// resolves with several options sharing the highest pool.
type TieBreakInput struct {
	MarketID  uint64
	Resolver  string
	Timestamp time.Time
	TotalPool uint64
	Tied      []int
}

// SeedSource supplies the 32-byte seed used to pick among tied options.
type SeedSource interface {
	Seed(in TieBreakInput) [32]byte
}

// HashSeed derives the seed as keccak256 over the resolution context and a
// salt drawn once per process. Anyone who controls the resolve call can
// grind it; use RandSeed or an external beacon when that matters.
type HashSeed struct {
	salt [32]byte
}

func NewHashSeed() *HashSeed {
	s := &HashSeed{}
	if _, err := rand.Read(s.salt[:]); err != nil {
		panic("engine: read seed salt: " + err.Error())
	}
	return s
}

func (s *HashSeed) Seed(in TieBreakInput) [32]byte {
	buf := make([]byte, 0, 32+8+8+8+len(in.Resolver)+len(in.Tied))
	buf = append(buf, s.salt[:]...)
	buf = binary.BigEndian.AppendUint64(buf, in.MarketID)
	buf = binary.BigEndian.AppendUint64(buf, uint64(in.Timestamp.UnixNano()))
	buf = binary.BigEndian.AppendUint64(buf, in.TotalPool)
	buf = append(buf, in.Resolver...)
	for _, o := range in.Tied {
		buf = append(buf, byte(o))
	}
	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

// RandSeed reads every seed from crypto/rand.
type RandSeed struct{}

func (RandSeed) Seed(TieBreakInput) [32]byte {
	var out [32]byte
	if _, err := rand.Read(out[:]); err != nil {
		panic("engine: read tie-break seed: " + err.Error())
	}
	return out
}

// FixedSeed always returns the same seed.
type FixedSeed [32]byte

func (f FixedSeed) Seed(TieBreakInput) [32]byte { return f }

// pickTied maps a seed uniformly (up to 2^-256 bias) onto one of the tied
// options.
func pickTied(seed [32]byte, tied []int) int {
	n := new(uint256.Int).SetBytes32(seed[:])
	idx := n.Mod(n, uint256.NewInt(uint64(len(tied))))
	return tied[idx.Uint64()]
}
