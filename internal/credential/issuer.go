// Package credential issues signed credentials binding a phone number to a nullifier.
package credential

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidCredential is returned when a credential is malformed or its signature does not verify.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Claims are the signed fields of a phone credential.
type Claims struct {
	jwt.RegisteredClaims
	PhoneNumber string `json:"phone_number"`
	Nullifier   string `json:"nullifier"`
}

// Credential is what the client receives after a successful verification.
type Credential struct {
	Token       string    `json:"token"`
	PhoneNumber string    `json:"phoneNumber"`
	Nullifier   string    `json:"nullifier"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// Issuer signs credentials.
type Issuer interface {
	// Issue binds phoneNumber to nullifier. The leading "+" of an E.164 number is dropped.
	Issue(phoneNumber, nullifier string) (*Credential, error)
}

// JWTIssuer issues ES256 JWT credentials.
type JWTIssuer struct {
	key    *ecdsa.PrivateKey
	issuer string
	nowF   func() time.Time
}

// NewJWTIssuer returns an issuer signing with key. issuer is set as the iss claim.
func NewJWTIssuer(key *ecdsa.PrivateKey, issuer string) *JWTIssuer {
	return &JWTIssuer{key: key, issuer: issuer, nowF: func() time.Time { return time.Now().UTC() }}
}

func (i *JWTIssuer) Issue(phoneNumber, nullifier string) (*Credential, error) {
	jti, err := generateJTI()
	if err != nil {
		return nil, err
	}
	number := strings.TrimPrefix(phoneNumber, "+")
	now := i.nowF()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jti,
			Subject:  number,
			Issuer:   i.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		PhoneNumber: number,
		Nullifier:   nullifier,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(i.key)
	if err != nil {
		return nil, err
	}
	return &Credential{Token: token, PhoneNumber: number, Nullifier: nullifier, IssuedAt: now}, nil
}

// Verify parses token and checks its signature and issuer against this issuer's key.
func (i *JWTIssuer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, ErrInvalidCredential
		}
		return &i.key.PublicKey, nil
	}, jwt.WithIssuer(i.issuer))
	if err != nil {
		return nil, ErrInvalidCredential
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
