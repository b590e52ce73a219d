// Package pii tokenizes network and contact identifiers so that derived layers
// can be joined on them without retaining the raw values.
package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/leapstack-labs/lakegov/internal/governance"
	"golang.org/x/crypto/blake2b"
)

// Supported digest algorithms.
const (
	HashSHA256  = "sha256"
	HashBlake2b = "blake2b-256"
)

// Tokenizer maps a sensitive value to hex(hash(value || secret)). The secret is
// part of the token's identity: tokens from different secrets never compare equal.
type Tokenizer struct {
	secret  []byte
	newHash func() hash.Hash
}

// New creates a tokenizer. algo defaults to sha256, which matches tokens
// already stored in clean partitions.
func New(secret, algo string) (*Tokenizer, error) {
	if secret == "" {
		return nil, &governance.ConfigurationError{Reason: "pii token secret is empty"}
	}

	var newHash func() hash.Hash
	switch algo {
	case "", HashSHA256:
		newHash = sha256.New
	case HashBlake2b:
		newHash = func() hash.Hash {
			// New256 only fails for keys longer than 64 bytes; no key is used here.
			h, _ := blake2b.New256(nil)
			return h
		}
	default:
		return nil, &governance.ConfigurationError{Reason: fmt.Sprintf("unknown token hash %q", algo)}
	}

	return &Tokenizer{secret: []byte(secret), newHash: newHash}, nil
}

// Token returns the digest for value.
func (t *Tokenizer) Token(value string) string {
	h := t.newHash()
	h.Write([]byte(value))
	h.Write(t.secret)
	return hex.EncodeToString(h.Sum(nil))
}
