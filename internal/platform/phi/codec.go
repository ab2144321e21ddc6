// Package phi provides field-level protection for patient identifying data:
// AES-256-GCM sealing of sensitive fields and a deterministic content
// fingerprint over the non-sensitive canonical view of a record.
package phi

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Codec seals and unseals sensitive field values with a server-wide symmetric
// key. It is stateless between calls and safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a Codec from a 32-byte AES-256 key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("phi codec: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("phi codec: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phi codec: create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Seal encrypts the plaintext and returns a base64-encoded ciphertext with the
// nonce prepended. Empty input passes through as empty: absent sensitive
// values are stored absent, not as sealed empty strings.
func (c *Codec) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("phi seal: generate nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, so the result is nonce + ciphertext.
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unseal decodes the base64 ciphertext, extracts the prepended nonce, and
// decrypts. Empty input passes through as empty.
func (c *Codec) Unseal(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("phi unseal: base64 decode: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("phi unseal: ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("phi unseal: %w", err)
	}
	return string(plaintext), nil
}

// SensitiveFields is the fixed set of fields sealed at rest.
type SensitiveFields struct {
	Phone string
	Email string
}

// SealFields seals every non-empty sensitive field.
func (c *Codec) SealFields(f SensitiveFields) (SensitiveFields, error) {
	var sealed SensitiveFields
	var err error
	if sealed.Phone, err = c.Seal(f.Phone); err != nil {
		return SensitiveFields{}, fmt.Errorf("seal phone: %w", err)
	}
	if sealed.Email, err = c.Seal(f.Email); err != nil {
		return SensitiveFields{}, fmt.Errorf("seal email: %w", err)
	}
	return sealed, nil
}

// UnsealFields is the inverse of SealFields; fields absent at rest stay absent.
func (c *Codec) UnsealFields(f SensitiveFields) (SensitiveFields, error) {
	var plain SensitiveFields
	var err error
	if plain.Phone, err = c.Unseal(f.Phone); err != nil {
		return SensitiveFields{}, fmt.Errorf("unseal phone: %w", err)
	}
	if plain.Email, err = c.Unseal(f.Email); err != nil {
		return SensitiveFields{}, fmt.Errorf("unseal email: %w", err)
	}
	return plain, nil
}

// CanonicalView is the subset of a record covered by the version token. It
// never includes sealed values: sealing uses a fresh nonce per call, so sealed
// bytes differ across writes of identical plaintext and would break token
// stability. The monotonic Version counter guarantees the token changes on
// every committed update even when timestamps share a tick.
type CanonicalView struct {
	ID           string
	MRN          string
	FirstName    string
	LastName     string
	DOB          string
	Sex          string
	AddressLine1 string
	City         string
	PostalCode   string
	CountryCode  string
	Version      int
	CreatedAt    string
	UpdatedAt    string
}

// Fingerprint computes the version token: a sha256 hex digest over the
// key-sorted JSON serialization of the canonical view. json.Marshal emits map
// keys in sorted order, which makes the digest independent of field ordering
// in any underlying representation.
func Fingerprint(v CanonicalView) (string, error) {
	canonical := map[string]interface{}{
		"id":           v.ID,
		"mrn":          v.MRN,
		"firstName":    v.FirstName,
		"lastName":     v.LastName,
		"dob":          v.DOB,
		"sex":          v.Sex,
		"addressLine1": v.AddressLine1,
		"city":         v.City,
		"postalCode":   v.PostalCode,
		"countryCode":  v.CountryCode,
		"version":      v.Version,
		"createdAt":    v.CreatedAt,
		"updatedAt":    v.UpdatedAt,
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("phi fingerprint: marshal canonical view: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
