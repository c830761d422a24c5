package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// base36Alphabet backs the default key format.
	base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// maskAlphabet backs mask-template substitution.
	maskAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	defaultKeyPrefix = "KEY-"
	defaultKeyLength = 16
)

// GenerateKeys produces count license-key strings from a cryptographically
// secure source. With an empty mask each key is "KEY-" plus 16 random base36
// uppercase characters; otherwise every '*' in the mask is independently
// replaced by a random character from [A-Z0-9] and all other characters pass
// through unchanged.
//
// Uniqueness is not guaranteed, neither inside the batch nor against existing
// keys; the store's unique index is the caller's backstop.
func GenerateKeys(count int, mask string) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be >= 1", ErrInvalidArgument)
	}

	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var key string
		var err error
		if mask == "" {
			key, err = randomKey()
		} else {
			key, err = keyFromMask(mask)
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func randomKey() (string, error) {
	var b strings.Builder
	b.WriteString(defaultKeyPrefix)
	for i := 0; i < defaultKeyLength; i++ {
		c, err := randomChar(base36Alphabet)
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

func keyFromMask(mask string) (string, error) {
	var b strings.Builder
	b.Grow(len(mask))
	for i := 0; i < len(mask); i++ {
		if mask[i] != '*' {
			b.WriteByte(mask[i])
			continue
		}
		c, err := randomChar(maskAlphabet)
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("read random source: %w", err)
	}
	return alphabet[n.Int64()], nil
}
