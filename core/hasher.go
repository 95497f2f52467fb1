package core

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported values for Config.PasswordHasher.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = errors.New("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted, encoded hash of the password.
	Hash(password string) (string, error)
	// Verify returns (true, nil) on match, (false, nil) on mismatch and an
	// error only when the stored hash is malformed.
	Verify(password, hash string) (bool, error)
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt hasher; cost outside bcrypt's range falls back to the default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("HASH_FAILED").With("scheme", HasherBcrypt).Wrap(err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("INVALID_HASH").With("scheme", HasherBcrypt).Wrap(err)
	}
}

// argon2id parameters (OWASP baseline).
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

const argon2Prefix = "$argon2id$"

// Argon2idHasher implements PasswordHasher using argon2id encoded as a PHC string.
type Argon2idHasher struct{}

func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash returns $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("HASH_FAILED").With("scheme", HasherArgon2id).Wrap(err)
	}
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2idHasher) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, oops.Code("INVALID_HASH").With("scheme", HasherArgon2id).Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("INVALID_HASH").With("scheme", HasherArgon2id).Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code("INVALID_HASH").With("scheme", HasherArgon2id).Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, oops.Code("INVALID_HASH").With("scheme", HasherArgon2id).Wrap(err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("INVALID_HASH").With("scheme", HasherArgon2id).Wrap(err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("INVALID_HASH").With("scheme", HasherArgon2id).Wrap(err)
	}
	if len(expected) == 0 || len(expected) > 1024 {
		return false, oops.Code("INVALID_HASH").With("scheme", HasherArgon2id).Errorf("invalid key length %d", len(expected))
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// SchemeHasher hashes with a primary scheme and verifies any supported scheme
// by looking at the hash prefix, so changing the configured algorithm does not
// lock out existing users.
type SchemeHasher struct {
	primaryName string
	primary     PasswordHasher
	bcrypt      *BcryptHasher
	argon2id    *Argon2idHasher
}

// NewPasswordHasher builds the SchemeHasher for the configured algorithm.
func NewPasswordHasher(cfg Config) (*SchemeHasher, error) {
	h := &SchemeHasher{
		bcrypt:   NewBcryptHasher(cfg.BcryptCost),
		argon2id: NewArgon2idHasher(),
	}
	switch strings.ToLower(cfg.PasswordHasher) {
	case "", HasherBcrypt:
		h.primaryName, h.primary = HasherBcrypt, h.bcrypt
	case HasherArgon2id:
		h.primaryName, h.primary = HasherArgon2id, h.argon2id
	default:
		return nil, oops.Code("CONFIG_INVALID").With("password_hasher", cfg.PasswordHasher).Errorf("unsupported password hasher")
	}
	return h, nil
}

func (h *SchemeHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h *SchemeHasher) Verify(password, hash string) (bool, error) {
	if strings.HasPrefix(hash, argon2Prefix) {
		return h.argon2id.Verify(password, hash)
	}
	return h.bcrypt.Verify(password, hash)
}

// NeedsRehash reports whether hash was produced by a scheme other than the primary one.
func (h *SchemeHasher) NeedsRehash(hash string) bool {
	isArgon := strings.HasPrefix(hash, argon2Prefix)
	if h.primaryName == HasherArgon2id {
		return !isArgon
	}
	return isArgon
}
