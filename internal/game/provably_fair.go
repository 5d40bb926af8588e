package game

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
)

const (
	MIN_MULTIPLIER     = 1.00
	MAX_MULTIPLIER     = 10.00
	HOUSE_EDGE         = 0.01 // 1%
	INSTANT_CRASH_RATE = 0.03 // r below this crashes at exactly 1.00x

	// FORMULA_VERSION identifies the crash-point derivation below. Any change to
	// the arithmetic must bump it; published rounds are verified against it.
	FORMULA_VERSION = "sha256-52bit-inverse-v1"

	hashPrefixLen = 13
	max52Bit      = 0xfffffffffffff
)

// CrashFormula pins the parameters of the crash-point derivation.
type CrashFormula struct {
	HouseEdge     float64
	MaxMultiplier float64
}

var DefaultFormula = CrashFormula{HouseEdge: HOUSE_EDGE, MaxMultiplier: MAX_MULTIPLIER}

// GenerateSeed creates a cryptographically secure 256-bit seed, hex encoded.
// It panics if the system entropy source fails, since a predictable seed
// would break the fairness commitment.
func GenerateSeed() string {
	seed, err := readSeed(rand.Reader)
	if err != nil {
		panic(err)
	}
	return seed
}

func readSeed(r io.Reader) (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read seed entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSeed is the public commitment for a seed: hex(SHA-256(seed)).
func HashSeed(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// CrashPoint derives the crash multiplier from seed. The first 13 hex digits of
// SHA-256(seed) give a 52-bit integer r in [0,1]; about 3% of rounds crash
// instantly, the rest follow 1 / (1 - r'(1 - 1/max)) scaled by the house edge,
// clamped to [1, max] and truncated to cents.
func (f CrashFormula) CrashPoint(seed string) float64 {
	hash := HashSeed(seed)

	n, err := strconv.ParseUint(hash[:hashPrefixLen], 16, 64)
	if err != nil {
		return MIN_MULTIPLIER
	}
	r := float64(n) / max52Bit

	if r < INSTANT_CRASH_RATE {
		return MIN_MULTIPLIER
	}

	normalized := (r - INSTANT_CRASH_RATE) / (1 - INSTANT_CRASH_RATE)
	crashValue := 1 / (1 - normalized*(1-1/f.MaxMultiplier))
	adjusted := crashValue * (1 - f.HouseEdge)

	capped := math.Min(math.Max(MIN_MULTIPLIER, adjusted), f.MaxMultiplier)
	return math.Floor(capped*100) / 100
}

// Verify recomputes hash and crash point from a revealed seed.
func (f CrashFormula) Verify(seed, expectedHash string, expectedCrashPoint float64) bool {
	if HashSeed(seed) != expectedHash {
		return false
	}
	return cents(f.CrashPoint(seed)) == cents(expectedCrashPoint)
}

// CrashPoint uses the default ceiling with a caller supplied house edge.
func CrashPoint(seed string, houseEdge float64) float64 {
	return CrashFormula{HouseEdge: houseEdge, MaxMultiplier: MAX_MULTIPLIER}.CrashPoint(seed)
}

// VerifyRound allows players to verify the fairness of a round once its seed
// has been revealed.
func VerifyRound(seed, expectedHash string, expectedCrashPoint, houseEdge float64) bool {
	return CrashFormula{HouseEdge: houseEdge, MaxMultiplier: MAX_MULTIPLIER}.Verify(seed, expectedHash, expectedCrashPoint)
}

func cents(x float64) int64 {
	return int64(math.Round(x * 100))
}
