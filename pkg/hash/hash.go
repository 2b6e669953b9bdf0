package hash

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type Algorithm string

const (
	XXH64  Algorithm = "xxh64"
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// DigestLength returns the hex length of digests produced by the algorithm.
func (a Algorithm) DigestLength() int {
	switch a {
	case XXH64:
		return 16
	case MD5:
		return 32
	case SHA1:
		return 40
	case SHA256:
		return 64
	case SHA512:
		return 128
	default:
		return 0
	}
}

func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if a.DigestLength() == 0 {
		return "", fmt.Errorf("unsupported hash algorithm: %s", name)
	}
	return a, nil
}

type Hasher interface {
	Sum(data []byte) string
	Algorithm() Algorithm
}

type ContentHasher struct {
	algorithm Algorithm
}

func NewContentHasher(algorithm Algorithm) (*ContentHasher, error) {
	if algorithm.DigestLength() == 0 {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
	return &ContentHasher{algorithm: algorithm}, nil
}

func (h *ContentHasher) Sum(data []byte) string {
	hasher := h.newHash()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func (h *ContentHasher) Algorithm() Algorithm {
	return h.algorithm
}

func (h *ContentHasher) newHash() hash.Hash {
	switch h.algorithm {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	default:
		return xxhash.New()
	}
}
