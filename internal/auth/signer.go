package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const signerKeyInfo = "checkpoint-service/qr-credential/v1"

// ErrEmptySecret is returned when the signing secret is blank.
var ErrEmptySecret = errors.New("signing secret must not be empty")

// Signer computes and verifies HMAC-SHA256 signatures over the canonical
// credential fields. The key lives for the lifetime of the process.
type Signer struct {
	key []byte
}

// NewSigner derives the MAC key from secret with HKDF-SHA256.
func NewSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(signerKeyInfo)), key); err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// Sign returns the hex signature of id|subject_id|issued_at.
func (s *Signer) Sign(id, subjectID string, issuedAt time.Time) string {
	return hex.EncodeToString(s.mac(id, subjectID, issuedAt))
}

// Verify recomputes the signature and compares it in constant time.
func (s *Signer) Verify(id, subjectID string, issuedAt time.Time, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(id, subjectID, issuedAt))
}

func (s *Signer) mac(id, subjectID string, issuedAt time.Time) []byte {
	m := hmac.New(sha256.New, s.key)
	_, _ = io.WriteString(m, CanonicalFields(id, subjectID, issuedAt))
	return m.Sum(nil)
}

// CanonicalFields is the signed encoding. Pipes inside id or subject_id are
// escaped so that distinct field tuples never share an encoding.
func CanonicalFields(id, subjectID string, issuedAt time.Time) string {
	return escapeField(id) + "|" + escapeField(subjectID) + "|" + issuedAt.UTC().Format(time.RFC3339Nano)
}

var fieldEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

func escapeField(v string) string {
	return fieldEscaper.Replace(v)
}
