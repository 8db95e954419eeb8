package otp

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// NewCode returns a numeric one-time code of exactly digits length.
// Each digit is drawn independently so leading zeros are as likely as
// any other digit and the output needs no padding.
func NewCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}
