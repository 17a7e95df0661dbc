package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// OTPDigits is the length of every one-time code.
const OTPDigits = 6

var otpSpace = big.NewInt(1_000_000)

// NewOneTimeCode returns a uniformly random, zero-padded six digit code.
func NewOneTimeCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}
