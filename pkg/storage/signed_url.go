package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken reports a malformed or tampered download token.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrTokenExpired reports a token whose expiry has passed.
	ErrTokenExpired = errors.New("download token expired")
)

// DownloadClaims is the data carried by a signed download token.
type DownloadClaims struct {
	AttachmentID string
	Key          string
	ExpiresAt    time.Time
}

// Signer issues and verifies short-lived attachment download tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner constructs a signer with the provided secret and TTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token granting access to key on behalf of attachmentID.
func (s *Signer) Sign(attachmentID, key string) (string, time.Time, error) {
	if attachmentID == "" || key == "" {
		return "", time.Time{}, fmt.Errorf("attachment id and key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	body := strings.Join([]string{
		attachmentID,
		strconv.FormatInt(expiresAt.Unix(), 10),
		base64.RawURLEncoding.EncodeToString([]byte(key)),
	}, ".")
	return body + "." + s.mac(body), expiresAt, nil
}

// Verify checks the signature and expiry of token.
func (s *Signer) Verify(token string) (DownloadClaims, error) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 {
		return DownloadClaims{}, ErrInvalidToken
	}
	body, signature := token[:idx], token[idx+1:]
	if !hmac.Equal([]byte(s.mac(body)), []byte(signature)) {
		return DownloadClaims{}, ErrInvalidToken
	}

	parts := strings.Split(body, ".")
	if len(parts) != 3 {
		return DownloadClaims{}, ErrInvalidToken
	}
	expUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return DownloadClaims{}, ErrInvalidToken
	}
	key, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return DownloadClaims{}, ErrInvalidToken
	}

	claims := DownloadClaims{AttachmentID: parts[0], Key: string(key), ExpiresAt: time.Unix(expUnix, 0).UTC()}
	if s.now().After(claims.ExpiresAt) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

func (s *Signer) mac(body string) string {
	h := hmac.New(sha256.New, s.secret)
	_, _ = h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}
