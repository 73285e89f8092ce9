package util

import (
	"crypto/rand"
	"math/big"
)

// GenerateCode returns a random string of length drawn uniformly from alphabet.
func GenerateCode(alphabet string, length int) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}
