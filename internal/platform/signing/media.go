// Package signing issues short-lived, user-bound signatures for episode media URLs
// handed to the player when a viewing session opens.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSignature = errors.New("missing signed params")
	ErrInvalidSignature = errors.New("invalid or expired signature")
)

type Signer struct {
	Secret []byte
	now    func() time.Time
}

func New(secret string) *Signer {
	return &Signer{Secret: []byte(secret), now: time.Now}
}

// SignURL appends uid, exp and sig query params to rawURL.
// The signature covers the URL without those params.
func (s *Signer) SignURL(rawURL, userID string, exp time.Time) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	base := stripSigned(u)
	sig := s.signValue(base, userID, exp.Unix())

	q := u.Query()
	q.Set("uid", userID)
	q.Set("exp", strconv.FormatInt(exp.Unix(), 10))
	q.Set("sig", sig)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// VerifyURL checks a URL produced by SignURL and returns the bound user id.
func (s *Signer) VerifyURL(signedURL string) (string, error) {
	u, err := url.Parse(signedURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	uid := strings.TrimSpace(q.Get("uid"))
	expStr := strings.TrimSpace(q.Get("exp"))
	sig := strings.TrimSpace(q.Get("sig"))
	if uid == "" || expStr == "" || sig == "" {
		return "", ErrMissingSignature
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrMissingSignature
	}
	if s.now().Unix() > exp {
		return "", ErrInvalidSignature
	}
	want := s.signValue(stripSigned(u), uid, exp)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", ErrInvalidSignature
	}
	return uid, nil
}

func (s *Signer) signValue(base, userID string, exp int64) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(base))
	mac.Write([]byte("|"))
	mac.Write([]byte(userID))
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func stripSigned(u *url.URL) string {
	c := *u
	q := c.Query()
	q.Del("uid")
	q.Del("exp")
	q.Del("sig")
	c.RawQuery = q.Encode()
	return c.String()
}
