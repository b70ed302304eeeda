package encryption

import (
	"crypto/rand"
	"crypto/sha256"

	dberror "litepage/pkg/error"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize selects AES-256.
	KeySize = 32

	// SaltSize is the length of the random salt kept beside the data file.
	SaltSize = 16

	// Iterations is the PBKDF2 work factor.
	Iterations = 10000
)

// DeriveKey stretches password into a KeySize key.
func DeriveKey(password string, salt []byte) ([]byte, error) {
	if password == "" {
		return nil, dberror.New(dberror.ErrCategoryUser, dberror.CodeInvalidConfig, "password cannot be empty").
			WithOp("DeriveKey", component)
	}
	if len(salt) != SaltSize {
		return nil, dberror.Newf(dberror.ErrCategoryUser, dberror.CodeInvalidConfig,
			"invalid salt", "salt must be %d bytes, got %d", SaltSize, len(salt)).WithOp("DeriveKey", component)
	}
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New), nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, ioError("NewSalt", err, "generate %d byte salt", SaltSize)
	}
	return salt, nil
}
