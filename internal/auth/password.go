package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters for the operator password hash, per current
// OWASP guidance.
const (
	argonMemoryKiB = 64 * 1024
	argonTime      = 3
	argonThreads   = 1
	argonSaltLen   = 16
	argonKeyLen    = 32
)

// HashPassword derives an Argon2id hash of the operator password in PHC
// string form:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt-b64>$<key-b64>
//
// The output is what goes into security.operator.password_hash in
// config.yaml.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemoryKiB, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemoryKiB, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches the stored PHC hash.
// The cost parameters embedded in the hash are honoured, so hashes made
// under older settings keep verifying after the defaults change.
func VerifyPassword(password, stored string) (bool, error) {
	h, err := parsePHC(stored)
	if err != nil {
		return false, err
	}

	//nolint:gosec // key length comes from a decoded hash, fits uint32
	candidate := argon2.IDKey([]byte(password), h.salt, h.time, h.memoryKiB, h.threads, uint32(len(h.key)))

	return subtle.ConstantTimeCompare(h.key, candidate) == 1, nil
}

// phcHash is one decoded $argon2id$ PHC string.
type phcHash struct {
	memoryKiB uint32
	time      uint32
	threads   uint8
	salt      []byte
	key       []byte
}

func parsePHC(stored string) (phcHash, error) {
	var h phcHash

	fields := strings.Split(strings.TrimPrefix(stored, "$"), "$")
	if len(fields) != 5 {
		return h, fmt.Errorf("malformed password hash")
	}
	if fields[0] != "argon2id" {
		return h, fmt.Errorf("unsupported password hash algorithm %q", fields[0])
	}

	var version int
	if _, err := fmt.Sscanf(fields[1], "v=%d", &version); err != nil {
		return h, fmt.Errorf("parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return h, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(fields[2], "m=%d,t=%d,p=%d", &h.memoryKiB, &h.time, &h.threads); err != nil {
		return h, fmt.Errorf("parsing hash parameters: %w", err)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[3]); err != nil {
		return h, fmt.Errorf("decoding salt: %w", err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return h, fmt.Errorf("decoding key: %w", err)
	}
	return h, nil
}
