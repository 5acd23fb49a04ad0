// Package fingerprint derives public paste codes from content.
//
// A code is the BLAKE3-256 digest of the content, truncated to CodeBytes
// and encoded with unpadded base64url. It depends on nothing but the bytes,
// so identical uploads always share a code.
package fingerprint

import (
	"encoding/base64"
	"hash"

	"github.com/zeebo/blake3"
)

const (
	// CodeBytes is the number of digest bytes kept in a code (120 bits).
	CodeBytes = 15
	// CodeLen is the length of an encoded code.
	CodeLen = CodeBytes * 4 / 3
)

var encoding = base64.RawURLEncoding

// Code is the public identifier of a stored object.
type Code string

func (c Code) String() string { return string(c) }

// New returns a streaming hasher whose Sum is accepted by Encode.
func New() hash.Hash {
	return blake3.New()
}

// Encode turns a full digest into a code.
func Encode(sum []byte) Code {
	if len(sum) > CodeBytes {
		sum = sum[:CodeBytes]
	}
	return Code(encoding.EncodeToString(sum))
}

// Of fingerprints data in one call.
func Of(data []byte) Code {
	sum := blake3.Sum256(data)
	return Encode(sum[:])
}

// Valid reports whether s has the shape of a code.
func Valid(s string) bool {
	if len(s) != CodeLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
