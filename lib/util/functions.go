package util

// 64 bit FNV-1a parameters
const (
	fnvOffset64 uint64 = 14695981039346656037
	fnvPrime64  uint64 = 1099511628211
)

// HashString returns the 64 bit FNV-1a hash of s. The seed is mixed into the
// offset basis, so different seeds give independent hash families.
func HashString(s string, seed uint64) uint64 {
	hash := fnvOffset64 ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= fnvPrime64
	}
	return hash
}

// Fold32 xor-folds a 64 bit hash into 32 bits
func Fold32(hash uint64) uint32 {
	return uint32(hash>>32) ^ uint32(hash)
}
