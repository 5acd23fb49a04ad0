// Package access hashes paste passwords and checks retrieval attempts
// against them.
//
// Hashes use argon2id and are stored in the PHC string format
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// so the cost parameters can be raised without invalidating stored hashes.
package access

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/jacktea/xpaste/pkg/xerrors"
)

const saltLen = 16

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams follows the RFC 9106 second recommended option.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32}

var b64 = base64.RawStdEncoding

// Gate hashes and verifies passwords with fixed parameters.
type Gate struct {
	params Params
}

// New returns a Gate. Zero fields in p take their DefaultParams value.
func New(p Params) *Gate {
	if p.Time == 0 {
		p.Time = DefaultParams.Time
	}
	if p.Memory == 0 {
		p.Memory = DefaultParams.Memory
	}
	if p.Threads == 0 {
		p.Threads = DefaultParams.Threads
	}
	if p.KeyLen == 0 {
		p.KeyLen = DefaultParams.KeyLen
	}
	return &Gate{params: p}
}

// Hash derives an encoded hash for password.
func (g *Gate) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", xerrors.Wrap(xerrors.KindInternal, "access.Hash", "", err)
	}
	p := g.params
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads, b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Check reports whether attempt opens an object protected by hash. An empty
// hash means the object is public. A missing attempt and a wrong attempt
// produce the same error.
func (g *Gate) Check(hash string, attempt *string) error {
	if hash == "" {
		return nil
	}
	if attempt == nil {
		return xerrors.E(xerrors.KindForbidden, "access.Check", "")
	}
	p, salt, want, err := decode(hash)
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "access.Check", "", err)
	}
	got := argon2.IDKey([]byte(*attempt), salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return xerrors.E(xerrors.KindForbidden, "access.Check", "")
	}
	return nil
}

func decode(hash string) (Params, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("access: unsupported hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("access: parse version: %w", err)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("access: unsupported argon2 version %d", version)
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, nil, fmt.Errorf("access: parse params: %w", err)
	}
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("access: decode salt: %w", err)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, fmt.Errorf("access: decode key: %v", err)
	}
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}
