package service

import (
	"math/big"

	"golang.org/x/crypto/sha3"
)

// deriveCommittee maps a random value to up to k distinct positions in an
// index of size n. Draw i hashes value with i encoded as a 32-byte big-endian
// word and reduces the digest modulo n; repeated positions are skipped and
// drawing stops after 4*k attempts.
func deriveCommittee(value [32]byte, n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	want := k
	if n < want {
		want = n
	}

	modulus := big.NewInt(int64(n))
	seen := make(map[int]struct{}, want)
	positions := make([]int, 0, want)
	var word [32]byte
	for i := 0; i < 4*k && len(positions) < want; i++ {
		big.NewInt(int64(i)).FillBytes(word[:])

		h := sha3.NewLegacyKeccak256()
		h.Write(value[:])
		h.Write(word[:])
		digest := new(big.Int).SetBytes(h.Sum(nil))

		pos := int(digest.Mod(digest, modulus).Int64())
		if _, dup := seen[pos]; dup {
			continue
		}
		seen[pos] = struct{}{}
		positions = append(positions, pos)
	}
	return positions
}
