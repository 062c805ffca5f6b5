// Package token signs page view identifiers so that event ingestion for a
// page view is only accepted from the client that created it.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// MaxVisitorIDLength bounds the visitor ID embedded in a token.
const MaxVisitorIDLength = 128

// payload structure for encoding/decoding
type payload struct {
	PageViewID string `json:"pv"`
	VisitorID  string `json:"v,omitempty"`
	TS         int64  `json:"t"` // unix milliseconds
}

// Claims are the verified contents of a page view token.
type Claims struct {
	PageViewID string
	VisitorID  string
	IssuedAt   time.Time
}

var now = time.Now

// Generate creates a signed token for a page view.
func Generate(pageViewID, visitorID string, secret []byte) (string, error) {
	if pageViewID == "" {
		return "", errors.New("page view id is required")
	}
	if len(visitorID) > MaxVisitorIDLength {
		return "", errors.New("visitor id too long")
	}
	data, err := json.Marshal(payload{PageViewID: pageViewID, VisitorID: visitorID, TS: now().UnixMilli()})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the token integrity and expiry and returns its claims. A
// zero ttl disables the expiry check.
func Verify(token string, secret []byte, ttl time.Duration) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalid
	}
	enc := base64.RawURLEncoding
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return Claims{}, ErrInvalid
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalid
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Claims{}, ErrInvalid
	}

	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil || pl.PageViewID == "" {
		return Claims{}, ErrInvalid
	}
	issued := time.UnixMilli(pl.TS)
	if ttl > 0 && now().Sub(issued) > ttl {
		return Claims{}, ErrExpired
	}
	return Claims{PageViewID: pl.PageViewID, VisitorID: pl.VisitorID, IssuedAt: issued}, nil
}

// VerifyFor is Verify plus a check that the token belongs to pageViewID.
func VerifyFor(token, pageViewID string, secret []byte, ttl time.Duration) (Claims, error) {
	c, err := Verify(token, secret, ttl)
	if err != nil {
		return Claims{}, err
	}
	if !hmac.Equal([]byte(c.PageViewID), []byte(pageViewID)) {
		return Claims{}, ErrInvalid
	}
	return c, nil
}
