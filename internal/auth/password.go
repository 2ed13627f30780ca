package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

type ArgonParams struct {
	Memory      uint32 // in KiB (e.g., 64*1024)
	Time        uint32 // iterations
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

var DefaultArgon = ArgonParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

const (
	argonPrefix  = "argon2id$"
	pbkdf2SHA256 = "pbkdf2_sha256$"

	maxArgonMemory = 256 * 1024
	maxArgonTime   = 16
	maxPBKDF2Iter  = 2_000_000
)

var ErrInvalidHash = errors.New("invalid password hash")

// IsHashed reports whether stored carries a hash prefix VerifyPassword
// understands and must not be hashed again.
func IsHashed(stored string) bool {
	return strings.HasPrefix(stored, argonPrefix) || strings.HasPrefix(stored, pbkdf2SHA256)
}

func HashPassword(p ArgonParams, password string) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	// encoded format: argon2id$m=<M>,t=<T>,p=<P>$<b64(salt)>$<b64(key)>
	return fmt.Sprintf("argon2id$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks password against an argon2id or pbkdf2_sha256
// encoded hash.
func VerifyPassword(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, argonPrefix):
		return verifyArgon(password, encoded[len(argonPrefix):])
	case strings.HasPrefix(encoded, pbkdf2SHA256):
		return verifyPBKDF2(password, encoded[len(pbkdf2SHA256):])
	default:
		return false, ErrInvalidHash
	}
}

// CheckCredential compares a login password with the stored credential.
// Stored values without a hash prefix are legacy plaintext.
func CheckCredential(password, stored string) bool {
	if password == "" || stored == "" {
		return false
	}
	if IsHashed(stored) {
		ok, err := VerifyPassword(password, stored)
		return err == nil && ok
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
}

func verifyArgon(password, rest string) (bool, error) {
	parts := strings.Split(rest, "$")
	if len(parts) != 3 {
		return false, ErrInvalidHash
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[0], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, ErrInvalidHash
	}
	if t < 1 || t > maxArgonTime || p < 1 || m < 8*uint32(p) || m > maxArgonMemory {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, ErrInvalidHash
	}
	keyRef, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(keyRef) == 0 {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(keyRef)))
	return subtle.ConstantTimeCompare(key, keyRef) == 1, nil
}

// verifyPBKDF2 handles the "<iterations>$<salt>$<b64(key)>" tail written by
// the previous backend.
func verifyPBKDF2(password, rest string) (bool, error) {
	parts := strings.Split(rest, "$")
	if len(parts) != 3 {
		return false, ErrInvalidHash
	}
	iter, err := strconv.Atoi(parts[0])
	if err != nil || iter < 1 || iter > maxPBKDF2Iter {
		return false, ErrInvalidHash
	}
	keyRef, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(keyRef) == 0 {
		return false, ErrInvalidHash
	}
	key := pbkdf2.Key([]byte(password), []byte(parts[1]), iter, len(keyRef), sha256.New)
	return subtle.ConstantTimeCompare(key, keyRef) == 1, nil
}
