package capa

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// Rerandomize controls when a problem picks a fresh seed.
type Rerandomize string

const (
	RerandomizeAlways     Rerandomize = "always"
	RerandomizeOnReset    Rerandomize = "onreset"
	RerandomizeNever      Rerandomize = "never"
	RerandomizePerStudent Rerandomize = "per_student"
)

const (
	// NumRandomizationBins bounds per-student seeds so analytics never see
	// more than 20 variants of one problem.
	NumRandomizationBins = 20
	// MaxRandomizationBins bounds random seeds so sandboxed grader results
	// stay cacheable across learners.
	MaxRandomizationBins = 1000
)

// ChooseSeed picks a seed for a problem instance according to policy.
// learnerSeed is the per-learner anonymous seed; it may be nil, in which
// case per_student falls back to the random path.
func ChooseSeed(policy Rerandomize, learnerSeed *int, problemID string) int {
	switch {
	case policy == RerandomizeNever:
		return 1
	case policy == RerandomizePerStudent && learnerSeed != nil:
		return perStudentSeed(*learnerSeed, problemID)
	default:
		return randomSeed()
	}
}

// perStudentSeed is deterministic in (learnerSeed, problemID): SHA-1 over
// the concatenation, first 7 hex digits as an integer, folded into
// NumRandomizationBins.
func perStudentSeed(learnerSeed int, problemID string) int {
	sum := sha1.Sum([]byte(strconv.Itoa(learnerSeed) + problemID))
	hexDigest := hex.EncodeToString(sum[:])
	v, _ := strconv.ParseInt(hexDigest[:7], 16, 64)
	return int(v % NumRandomizationBins)
}

func randomSeed() int {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failure is unrecoverable in practice; fall back to a
		// fixed variant rather than crashing mid-request.
		return 1
	}
	v := int(int32(binary.LittleEndian.Uint32(buf[:])))
	return ((v % MaxRandomizationBins) + MaxRandomizationBins) % MaxRandomizationBins
}
