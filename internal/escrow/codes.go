package escrow

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// CodeLength is the number of characters in a pickup or delivery code.
const CodeLength = 8

// CodeGenerator returns a fresh opaque handoff code.
type CodeGenerator func() (string, error)

// RandomCode returns 8 uppercase hex characters from crypto/rand.
func RandomCode() (string, error) {
	b := make([]byte, CodeLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("escrow.RandomCode: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

const maxCodeAttempts = 5

// codePair draws a pickup and a delivery code that differ from each other.
func codePair(gen CodeGenerator) (pickup, delivery string, err error) {
	if pickup, err = gen(); err != nil {
		return "", "", err
	}
	for i := 0; i < maxCodeAttempts; i++ {
		if delivery, err = gen(); err != nil {
			return "", "", err
		}
		if delivery != pickup {
			return pickup, delivery, nil
		}
	}
	return "", "", errors.New("escrow: could not draw distinct handoff codes")
}
