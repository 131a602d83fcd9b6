// Package token issues and verifies resident session credentials. A credential
// is a JSON claim block authenticated with a secret-key MAC; the server is the
// only party that ever reads one, so there is no asymmetric machinery.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/auth"
)

var (
	ErrBadToken = errors.New("token: invalid credential")
	ErrExpired  = errors.New("token: credential expired")
)

// Claims is the authenticated payload bound into a credential.
type Claims struct {
	ResidentID int64  `json:"rid"`
	Passport   string `json:"pp"`
	Type       string `json:"ty"` // AGENT | HUMAN
	ExpiresAt  int64  `json:"exp"`
}

// Authority signs and verifies credentials with a single secret key.
type Authority struct {
	key *[auth.KeySize]byte
	ttl time.Duration
}

// NewAuthority parses a hex-encoded 32-byte key. An empty key generates a
// random one, which invalidates outstanding credentials on restart.
func NewAuthority(hexKey string, ttl time.Duration) (*Authority, error) {
	var key [auth.KeySize]byte
	if hexKey == "" {
		if _, err := rand.Read(key[:]); err != nil {
			return nil, fmt.Errorf("token: generate key: %w", err)
		}
	} else {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("token: decode key: %w", err)
		}
		if len(raw) != auth.KeySize {
			return nil, fmt.Errorf("token: key must be %d bytes, got %d", auth.KeySize, len(raw))
		}
		copy(key[:], raw)
	}
	return &Authority{key: &key, ttl: ttl}, nil
}

// Issue returns a credential for the resident, valid for the authority TTL.
func (a *Authority) Issue(residentID int64, passport, residentType string) (string, error) {
	claims := Claims{
		ResidentID: residentID,
		Passport:   passport,
		Type:       residentType,
		ExpiresAt:  time.Now().Add(a.ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}
	mac := auth.Sum(payload, a.key)
	blob := make([]byte, 0, len(payload)+auth.Size)
	blob = append(blob, mac[:]...)
	blob = append(blob, payload...)
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// Verify checks the MAC and expiry and returns the embedded claims.
func (a *Authority) Verify(credential string) (*Claims, error) {
	blob, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil || len(blob) <= auth.Size {
		return nil, ErrBadToken
	}
	var mac [auth.Size]byte
	copy(mac[:], blob[:auth.Size])
	payload := blob[auth.Size:]
	if !auth.Verify(mac[:], payload, a.key) {
		return nil, ErrBadToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrBadToken
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, ErrExpired
	}
	return &claims, nil
}

// passport alphabet omits lookalike characters.
const passportAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewPassport generates a public resident identifier like "CITY-7KQ2M9XD".
func NewPassport(prefix string) (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("token: generate passport: %w", err)
	}
	out := make([]byte, 8)
	for i, b := range raw {
		out[i] = passportAlphabet[int(b)%len(passportAlphabet)]
	}
	return prefix + "-" + string(out), nil
}
