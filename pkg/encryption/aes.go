package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"

	dberror "litepage/pkg/error"
	"litepage/pkg/primitives"
)

const (
	// NonceSize is the per-page random nonce length.
	NonceSize = 12

	// TagSize is the GCM authentication tag length.
	TagSize = 16

	// Overhead is the on-disk growth of every encrypted page.
	Overhead = NonceSize + TagSize
)

// AES encrypts pages with AES-GCM. Each page is stored as
// nonce || ciphertext || tag, and its logical position is authenticated so
// that a page moved to another offset fails to decrypt.
//
// AES is safe for concurrent use.
type AES struct {
	aead    cipher.AEAD
	nonces  io.Reader
	scratch sync.Pool
}

var _ Codec = (*AES)(nil)

// NewAES creates a codec from a 16, 24 or 32 byte key.
func NewAES(key []byte) (*AES, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dberror.New(dberror.ErrCategoryUser, dberror.CodeInvalidConfig, "invalid encryption key").
			WithOp("NewAES", component).
			WithCause(err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, dberror.New(dberror.ErrCategoryUser, dberror.CodeInvalidConfig, "cannot create GCM cipher").
			WithOp("NewAES", component).
			WithCause(err)
	}

	return &AES{aead: aead, nonces: rand.Reader}, nil
}

// NewAESFromPassword derives a key from password and salt and creates a codec.
func NewAESFromPassword(password string, salt []byte) (*AES, error) {
	key, err := DeriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	return NewAES(key)
}

// Overhead implements Codec.
func (c *AES) Overhead() int { return Overhead }

// Offset implements Codec.
func (c *AES) Offset(pos primitives.Position, pageSize int) int64 {
	return int64(primitives.IndexOf(pos, pageSize)) * int64(pageSize+Overhead)
}

func (c *AES) buffer(n int) *[]byte {
	if v := c.scratch.Get(); v != nil {
		b := v.(*[]byte)
		if cap(*b) >= n {
			*b = (*b)[:n]
			return b
		}
	}
	b := make([]byte, n)
	return &b
}

func additionalData(pos primitives.Position) []byte {
	var ad [8]byte
	binary.LittleEndian.PutUint64(ad[:], uint64(pos))
	return ad[:]
}

// Encrypt implements Codec.
func (c *AES) Encrypt(w io.Writer, page []byte, pos primitives.Position) error {
	buf := c.buffer(NonceSize + len(page) + TagSize)
	defer c.scratch.Put(buf)

	nonce := (*buf)[:NonceSize]
	if _, err := io.ReadFull(c.nonces, nonce); err != nil {
		return ioError("Encrypt", err, "generate nonce for page at %d", pos)
	}

	sealed := c.aead.Seal(nonce, nonce, page, additionalData(pos))
	if _, err := w.Write(sealed); err != nil {
		return ioError("Encrypt", err, "write encrypted page at %d", pos)
	}
	return nil
}

// Decrypt implements Codec. Authentication failure, from a wrong key or
// corrupted bytes, returns DECRYPTION_FAILED and leaves page zeroed. The
// writer never leaves holes in an encrypted file, so a zeroed block counts
// as corruption too.
func (c *AES) Decrypt(r io.Reader, page []byte, pos primitives.Position) error {
	buf := c.buffer(NonceSize + len(page) + TagSize)
	defer c.scratch.Put(buf)

	written, err := readPage(r, *buf, pos)
	if err != nil || !written {
		clear(page)
		return err
	}
	if isZero(*buf) {
		clear(page)
		return dberror.Newf(dberror.ErrCategoryData, dberror.CodeDecryptionFailed,
			"page decryption failed", "zeroed block at %d", pos).
			WithOp("Decrypt", component)
	}

	nonce, sealed := (*buf)[:NonceSize], (*buf)[NonceSize:]
	if _, err := c.aead.Open(page[:0], nonce, sealed, additionalData(pos)); err != nil {
		clear(page)
		return dberror.Newf(dberror.ErrCategoryData, dberror.CodeDecryptionFailed,
			"page decryption failed", "page at %d", pos).
			WithOp("Decrypt", component).
			WithCause(err)
	}
	return nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
