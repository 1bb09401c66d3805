/*
Copyright 2024 The Pinacle Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package prxtoken mints and verifies the proxy's scoped capability tokens:
// {userId, podId, podSlug, targetPort, iat, exp}. No JWT library exists
// anywhere in this module's retrieval corpus, so the signer is a minimal,
// hand-rolled HMAC-SHA256-over-JSON construction -- the one component in
// this module intentionally built on stdlib crypto rather than a
// third-party dependency.
package prxtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

// MaxLifetime is the maximum expiry window a Claims may carry; Sign refuses
// anything longer.
const MaxLifetime = 15 * time.Minute

// Claims is the capability a token grants: read/write/proxy access to
// exactly one (pod, port) pair, scoped to one user.
type Claims struct {
	UserID     string    `json:"userId"`
	PodID      string    `json:"podId"`
	PodSlug    string    `json:"podSlug"`
	TargetPort int       `json:"targetPort"`
	IssuedAt   time.Time `json:"iat"`
	ExpiresAt  time.Time `json:"exp"`
}

// Expired reports whether now is past c's expiry.
func (c Claims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Signer signs and verifies Claims with one shared secret key.
type Signer struct {
	key []byte
}

// NewSigner builds a Signer from the control plane's configured signing
// key. An empty key is rejected -- there is no "disabled" mode for proxy
// auth.
func NewSigner(key string) (*Signer, error) {
	if key == "" {
		return nil, apierrors.New(apierrors.KindInvariant, "proxy token signing key is empty")
	}
	return &Signer{key: []byte(key)}, nil
}

// Sign mints an opaque token string for claims, stamping IssuedAt to now and
// refusing a lifetime longer than MaxLifetime.
func (s *Signer) Sign(claims Claims, now time.Time) (string, error) {
	claims.IssuedAt = now
	if claims.ExpiresAt.IsZero() {
		claims.ExpiresAt = now.Add(MaxLifetime)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt) > MaxLifetime {
		return "", apierrors.New(apierrors.KindInvariant, "token lifetime exceeds 15 minutes")
	}

	body, err := json.Marshal(claims)
	if err != nil {
		return "", errors.Wrap(err, "marshal claims")
	}
	bodyB64 := base64.RawURLEncoding.EncodeToString(body)

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(bodyB64))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return bodyB64 + "." + sig, nil
}

// Verify checks token's signature and expiry, returning the decoded Claims.
func (s *Signer) Verify(token string, now time.Time) (Claims, error) {
	bodyB64, sig, ok := splitToken(token)
	if !ok {
		return Claims{}, apierrors.New(apierrors.KindUnauthorized, "malformed token")
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(bodyB64))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return Claims{}, apierrors.New(apierrors.KindUnauthorized, "invalid token signature")
	}

	body, err := base64.RawURLEncoding.DecodeString(bodyB64)
	if err != nil {
		return Claims{}, apierrors.New(apierrors.KindUnauthorized, "invalid token encoding")
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return Claims{}, apierrors.New(apierrors.KindUnauthorized, "invalid token claims")
	}
	if claims.Expired(now) {
		return Claims{}, apierrors.New(apierrors.KindUnauthorized, "token expired")
	}
	return claims, nil
}

func splitToken(token string) (body, sig string, ok bool) {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}
