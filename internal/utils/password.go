package utils

import "golang.org/x/crypto/bcrypt"

// BcryptCost is the work factor for every stored password hash.
const BcryptCost = 10

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// BcryptHasher is the Credential Hasher. The zero value hashes with
// BcryptCost.
type BcryptHasher struct {
	Cost int
}

// Hash returns a salted bcrypt hash of plain.
func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = BcryptCost
	}
	return HashPassword(plain, cost)
}

// Verify reports whether plain matches hash.
func (h BcryptHasher) Verify(hash, plain string) bool {
	return VerifyPassword(hash, plain)
}

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password. An empty
// hash is the no-password sentinel and never matches.
func VerifyPassword(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
