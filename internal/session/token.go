// Package session owns the websocket connection lifecycle: accept,
// heartbeat, backpressure, resume tokens, and the binding between a
// connection and its player.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTokenInvalid = errors.New("session: token invalid")
	ErrTokenExpired = errors.New("session: token expired")
	ErrSessionCap   = errors.New("session: active session cap reached")
)

// tokenPayload is the signed content of a resume token.
type tokenPayload struct {
	Name   string `json:"name"` // lowercased player name
	ConnID uint64 `json:"cid"`  // issuing connection
	IPHash string `json:"iph"`  // salted remote-address hash, 8 hex chars
	Expiry int64  `json:"exp"`  // epoch ms
	Nonce  string `json:"nonce"`
}

// TokenStore issues and validates single-use resume tokens. Tokens are
// `base64url(payload) "." base64url(hmac_sha256(secret, payload))`; a
// token is live only while it sits in the active map, so validation after
// invalidation fails even for a well-signed token.
type TokenStore struct {
	secret []byte
	ttl    time.Duration
	cap    int

	mu     sync.Mutex
	active map[string]tokenPayload
}

func NewTokenStore(secret string, ttl time.Duration, capN int) *TokenStore {
	return &TokenStore{
		secret: []byte(secret),
		ttl:    ttl,
		cap:    capN,
		active: map[string]tokenPayload{},
	}
}

// HashIP derives the 8-hex-char salted address hash embedded in tokens.
func (s *TokenStore) HashIP(remoteAddr string) string {
	host := remoteAddr
	if i := strings.LastIndexByte(remoteAddr, ':'); i > 0 {
		host = remoteAddr[:i]
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("ip:" + host))
	return hex.EncodeToString(mac.Sum(nil))[:8]
}

// Issue creates a fresh token bound to a player and connection. At the
// session cap it first evicts expired entries, then refuses.
func (s *TokenStore) Issue(name string, connID uint64, remoteAddr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) >= s.cap {
		now := time.Now().UnixMilli()
		for tok, p := range s.active {
			if p.Expiry <= now {
				delete(s.active, tok)
			}
		}
		if len(s.active) >= s.cap {
			return "", ErrSessionCap
		}
	}

	p := tokenPayload{
		Name:   strings.ToLower(name),
		ConnID: connID,
		IPHash: s.HashIP(remoteAddr),
		Expiry: time.Now().Add(s.ttl).UnixMilli(),
		Nonce:  uuid.NewString(),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw) + "." + base64.RawURLEncoding.EncodeToString(s.sign(raw))
	s.active[token] = p
	return token, nil
}

// Validate checks signature, expiry, liveness, and (when provided) the
// remote-address hash. A valid token is consumed: the caller must issue a
// replacement.
func (s *TokenStore) Validate(token, remoteAddr string) (name string, connID uint64, err error) {
	payloadB64, sigB64, ok := strings.Cut(token, ".")
	if !ok {
		return "", 0, ErrTokenInvalid
	}
	raw, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", 0, ErrTokenInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return "", 0, ErrTokenInvalid
	}
	if !hmac.Equal(sig, s.sign(raw)) {
		return "", 0, ErrTokenInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, live := s.active[token]
	if !live {
		return "", 0, ErrTokenInvalid
	}
	if time.Now().UnixMilli() >= p.Expiry {
		delete(s.active, token)
		return "", 0, ErrTokenExpired
	}
	if remoteAddr != "" && p.IPHash != s.HashIP(remoteAddr) {
		return "", 0, ErrTokenInvalid
	}
	delete(s.active, token)
	return p.Name, p.ConnID, nil
}

// Invalidate drops a token without validating it.
func (s *TokenStore) Invalidate(token string) {
	s.mu.Lock()
	delete(s.active, token)
	s.mu.Unlock()
}

// InvalidateName drops every live token for a player.
func (s *TokenStore) InvalidateName(name string) {
	name = strings.ToLower(name)
	s.mu.Lock()
	for tok, p := range s.active {
		if p.Name == name {
			delete(s.active, tok)
		}
	}
	s.mu.Unlock()
}

// Count returns the live token count.
func (s *TokenStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *TokenStore) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
