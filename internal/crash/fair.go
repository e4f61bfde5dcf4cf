package crash

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	MinMultiplier = 1.00
	MaxMultiplier = 1000000.00

	// HouseEdge is the probability mass pinned at MinMultiplier. Fixed
	// constant: changing it invalidates every published commitment.
	HouseEdge = 0.01
)

// GenerateServerSeed returns 32 cryptographically random bytes as hex.
func GenerateServerSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashServerSeed is the commitment published at round creation, before
// the seed is known to players.
func HashServerSeed(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveCrashPoint maps (serverSeed, clientSeed, nonce) to a crash
// multiplier >= 1.00 via HMAC-SHA256. Pure function: any third party
// can reproduce the multiplier from the revealed inputs.
func DeriveCrashPoint(serverSeed, clientSeed string, nonce int) float64 {
	data := fmt.Sprintf("%s:%d", clientSeed, nonce)
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(data))
	hashHex := hex.EncodeToString(h.Sum(nil))

	// First 16 hex chars = 64 bits of the digest.
	i := new(big.Int)
	i.SetString(hashHex[:16], 16)

	const maxUint64F = 18446744073709551616.0
	r := float64(i.Uint64()) / maxUint64F

	if r < HouseEdge {
		return MinMultiplier
	}

	crashValue := (100.0 - HouseEdge*100) / (100.0 - r*100.0)
	multiplier := float64(int(crashValue*100)) / 100.0

	if multiplier < MinMultiplier {
		return MinMultiplier
	}
	if multiplier > MaxMultiplier {
		return MaxMultiplier
	}
	return multiplier
}

// VerifyCrashPoint checks a revealed round against its claimed
// multiplier, tolerating float rounding in the claim.
func VerifyCrashPoint(serverSeed, clientSeed string, nonce int, claimed float64) bool {
	derived := DeriveCrashPoint(serverSeed, clientSeed, nonce)
	diff := derived - claimed
	if diff < 0 {
		diff = -diff
	}
	return diff < 0.01
}
