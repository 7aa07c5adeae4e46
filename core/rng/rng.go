// Package rng implements the deterministic combat RNG.
//
// Seeds are derived with SplitMix64 mixing from the ruleset seed, battle id,
// turn index, and a stream tag; the generator is xoshiro256**. Replaying the
// same battle with the same ruleset produces identical rolls on any machine.
package rng

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/google/uuid"
)

// splitmix64 is the canonical SplitMix64 output function.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Hash64 folds the given 64-bit words into one seed with SplitMix64 steps.
func Hash64(seed uint64, words ...uint64) uint64 {
	h := splitmix64(seed)
	for _, w := range words {
		h = splitmix64(h ^ w)
	}
	return h
}

// uuidWords splits a uuid into its two 64-bit halves, big endian.
func uuidWords(id uuid.UUID) (uint64, uint64) {
	return binary.BigEndian.Uint64(id[:8]), binary.BigEndian.Uint64(id[8:])
}

// TurnSeed derives the per-turn base seed.
func TurnSeed(rulesetSeed uint32, battleID uuid.UUID, turnIndex int) uint64 {
	hi, lo := uuidWords(battleID)
	return Hash64(uint64(rulesetSeed), hi, lo, uint64(turnIndex))
}

// StrikeSeeds derives the two independent per-turn streams: attacker A against
// B (tag 1) and attacker B against A (tag 2).
func StrikeSeeds(turnSeed uint64, playerAID, playerBID uuid.UUID) (aToB, bToA uint64) {
	ahi, alo := uuidWords(playerAID)
	bhi, blo := uuidWords(playerBID)
	aToB = Hash64(turnSeed, ahi, alo, bhi, blo, 1)
	bToA = Hash64(turnSeed, ahi, alo, bhi, blo, 2)
	return
}

// Stream is a xoshiro256** generator.
type Stream struct {
	s [4]uint64
}

// New seeds a stream by repeated SplitMix64 expansion of the derived seed.
func New(seed uint64) *Stream {
	var st Stream
	x := seed
	for i := range st.s {
		x = splitmix64(x)
		st.s[i] = x
	}
	// xoshiro must never be seeded with all-zero state.
	if st.s[0]|st.s[1]|st.s[2]|st.s[3] == 0 {
		st.s[0] = 0x9e3779b97f4a7c15
	}
	return &st
}

// Uint64 returns the next xoshiro256** output.
func (st *Stream) Uint64() uint64 {
	s := &st.s
	result := bits.RotateLeft64(s[1]*5, 7) * 9

	t := s[1] << 17
	s[2] ^= s[0]
	s[3] ^= s[1]
	s[1] ^= s[2]
	s[0] ^= s[3]
	s[2] ^= t
	s[3] = bits.RotateLeft64(s[3], 45)

	return result
}

// NextFraction returns a value in [0,1) with 2^32 discrete steps, taken from
// the top 32 bits of the next output.
func (st *Stream) NextFraction() float64 {
	return float64(st.Uint64()>>32) / float64(1<<32)
}

// NextDamage returns a damage roll in [min,max], scaling the next fraction
// over the interval and rounding half away from zero.
func (st *Stream) NextDamage(min, max int) int {
	if max <= min {
		return min
	}
	raw := float64(min) + st.NextFraction()*float64(max-min)
	return int(math.Round(raw))
}
