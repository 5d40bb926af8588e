package game

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestHashSeed_KnownAnswer(t *testing.T) {
	const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	if got := HashSeed(""); got != emptySHA256 {
		t.Errorf("HashSeed(\"\") = %v, want %v", got, emptySHA256)
	}
}

func TestHashSeed(t *testing.T) {
	seed := "test_seed_12345"

	hash1 := HashSeed(seed)
	hash2 := HashSeed(seed)

	if hash1 != hash2 {
		t.Error("HashSeed() is not deterministic")
	}

	if len(hash1) != 64 { // SHA256 = 64 hex characters
		t.Errorf("HashSeed() length = %v, want 64", len(hash1))
	}
}

func TestCrashPoint_KnownValues(t *testing.T) {
	tests := []struct {
		name      string
		seed      string
		houseEdge float64
		want      float64
	}{
		{name: "empty seed", seed: "", houseEdge: 0.01, want: 4.88},
		{name: "empty seed higher edge", seed: "", houseEdge: 0.05, want: 4.68},
		{name: "low draw", seed: "test_seed", houseEdge: 0.01, want: 1.27},
		{name: "near ceiling", seed: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", houseEdge: 0.01, want: 9.85},
		{name: "mid draw", seed: "deterministic_test_seed", houseEdge: 0.01, want: 2.10},
		{name: "instant crash", seed: "seed-3", houseEdge: 0.01, want: 1.00},
		{name: "instant crash again", seed: "seed-11", houseEdge: 0.01, want: 1.00},
		{name: "high draw", seed: "seed-24", houseEdge: 0.01, want: 6.08},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CrashPoint(tt.seed, tt.houseEdge)
			if cents(got) != cents(tt.want) {
				t.Errorf("CrashPoint(%q, %v) = %v, want %v", tt.seed, tt.houseEdge, got, tt.want)
			}
		})
	}
}

func TestCrashPoint_Deterministic(t *testing.T) {
	seed := GenerateSeed()

	result1 := CrashPoint(seed, HOUSE_EDGE)
	result2 := CrashPoint(seed, HOUSE_EDGE)
	result3 := DefaultFormula.CrashPoint(seed)

	if result1 != result2 || result2 != result3 {
		t.Errorf("CrashPoint() is not deterministic: got %v, %v, %v", result1, result2, result3)
	}
}

func TestCrashPoint_Bounds(t *testing.T) {
	for i := 0; i < 2000; i++ {
		got := DefaultFormula.CrashPoint(GenerateSeed())
		if got < MIN_MULTIPLIER || got > MAX_MULTIPLIER {
			t.Fatalf("CrashPoint() = %v, want within [%v, %v]", got, MIN_MULTIPLIER, MAX_MULTIPLIER)
		}
		if cents(got) != int64(got*100+0.5) {
			t.Fatalf("CrashPoint() = %v is not truncated to cents", got)
		}
	}
}

func TestCrashPoint_CustomCeiling(t *testing.T) {
	f := CrashFormula{HouseEdge: 0, MaxMultiplier: 1000}
	seed := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	if got := f.CrashPoint(seed); got <= MAX_MULTIPLIER {
		t.Errorf("CrashPoint() with ceiling 1000 = %v, want above %v", got, MAX_MULTIPLIER)
	}
}

func TestCrashPoint_InstantCrashRate(t *testing.T) {
	instantCrashCount := 0
	totalTests := 5000

	for i := 0; i < totalTests; i++ {
		if DefaultFormula.CrashPoint(GenerateSeed()) == MIN_MULTIPLIER {
			instantCrashCount++
		}
	}

	// At least the 3% floor, plus draws the house edge pulls under 1.00x.
	rate := float64(instantCrashCount) / float64(totalTests)
	if rate < 0.02 || rate > 0.10 {
		t.Errorf("instant crash rate = %.2f%%, want between 2%% and 10%%", rate*100)
	}
}

func TestGenerateSeed(t *testing.T) {
	seed1 := GenerateSeed()
	seed2 := GenerateSeed()

	if seed1 == seed2 {
		t.Error("GenerateSeed() produced duplicate seeds")
	}

	if len(seed1) != 64 { // 32 bytes = 64 hex characters
		t.Errorf("GenerateSeed() length = %v, want 64", len(seed1))
	}
}

func TestReadSeed(t *testing.T) {
	seed, err := readSeed(bytes.NewReader(bytes.Repeat([]byte{0xab}, 32)))
	if err != nil || seed != strings.Repeat("ab", 32) {
		t.Errorf("readSeed() = %q, %v", seed, err)
	}

	entropyErr := errors.New("entropy unavailable")
	if seed, err := readSeed(iotest.ErrReader(entropyErr)); !errors.Is(err, entropyErr) || seed != "" {
		t.Errorf("readSeed(failing) = %q, %v; want error", seed, err)
	}
	if _, err := readSeed(bytes.NewReader(make([]byte, 16))); err == nil {
		t.Error("readSeed(short) returned nil error")
	}
}

func TestVerifyRound(t *testing.T) {
	seed := "verification_test_seed"
	hash := HashSeed(seed)
	actual := CrashPoint(seed, HOUSE_EDGE)

	tests := []struct {
		name       string
		seed       string
		hash       string
		crashPoint float64
		houseEdge  float64
		want       bool
	}{
		{name: "Valid verification", seed: seed, hash: hash, crashPoint: actual, houseEdge: HOUSE_EDGE, want: true},
		{name: "Invalid multiplier", seed: seed, hash: hash, crashPoint: actual + 0.01, houseEdge: HOUSE_EDGE, want: false},
		{name: "Wrong server seed", seed: "wrong_seed", hash: hash, crashPoint: actual, houseEdge: HOUSE_EDGE, want: false},
		{name: "Wrong hash", seed: seed, hash: HashSeed("other"), crashPoint: actual, houseEdge: HOUSE_EDGE, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyRound(tt.seed, tt.hash, tt.crashPoint, tt.houseEdge)
			if got != tt.want {
				t.Errorf("VerifyRound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkCrashPoint(b *testing.B) {
	seed := "benchmark_server_seed"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DefaultFormula.CrashPoint(seed)
	}
}

func BenchmarkGenerateSeed(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateSeed()
	}
}

func BenchmarkHashSeed(b *testing.B) {
	seed := "benchmark_seed_12345"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		HashSeed(seed)
	}
}
