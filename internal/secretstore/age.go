package secretstore

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// EncryptedValuePrefix tags Tier-B ciphertext so a reader can tell it
// apart from the other column sentinels at a glance.
const EncryptedValuePrefix = "encrypted:gitflow:v1:"

// ageVault encrypts and decrypts Tier-B ciphertext against a single,
// server-held X25519 identity (see DESIGN.md's Open Question decision
// on vault key material).
type ageVault struct {
	identity  *age.X25519Identity
	recipient age.Recipient
}

func newAgeVault(identityStr string) (*ageVault, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(identityStr))
	if err != nil {
		return nil, fmt.Errorf("parse vault identity: %w", err)
	}
	recipient, err := age.ParseX25519Recipient(identity.Recipient().String())
	if err != nil {
		return nil, fmt.Errorf("derive vault recipient: %w", err)
	}
	return &ageVault{identity: identity, recipient: recipient}, nil
}

// GenerateVaultIdentity creates a fresh X25519 identity string suitable
// for SECURITY_VAULT_IDENTITY. Operators run this once at setup time.
func GenerateVaultIdentity() (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", err
	}
	return identity.String(), nil
}

func (v *ageVault) encrypt(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, v.recipient)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return EncryptedValuePrefix + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

func (v *ageVault) decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, EncryptedValuePrefix) {
		return "", fmt.Errorf("value is not %s ciphertext", EncryptedValuePrefix)
	}
	payload := strings.TrimPrefix(ciphertext, EncryptedValuePrefix)
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext payload: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), v.identity)
	if err != nil {
		return "", err
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// IsEncryptedValue reports whether value looks like Tier-B ciphertext,
// as opposed to one of the plain sentinels in models.
func IsEncryptedValue(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), EncryptedValuePrefix)
}
