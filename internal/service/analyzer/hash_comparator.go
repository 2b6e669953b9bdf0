package analyzer

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/abdulalimswe/FairMark/pkg/hash"
)

// HashComparator checks digests against the configured algorithm so that
// fingerprints from different sources compare byte for byte.
type HashComparator interface {
	Normalize(digest string) (string, error)
}

type hashComparator struct {
	algorithm hash.Algorithm
}

func NewHashComparator(algorithm hash.Algorithm) HashComparator {
	return &hashComparator{algorithm: algorithm}
}

func (c *hashComparator) Normalize(digest string) (string, error) {
	digest = strings.ToLower(strings.TrimSpace(digest))

	if want := c.algorithm.DigestLength(); len(digest) != want {
		return "", fmt.Errorf("digest length %d does not match %s (%d)", len(digest), c.algorithm, want)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("digest is not hex: %w", err)
	}

	return digest, nil
}

