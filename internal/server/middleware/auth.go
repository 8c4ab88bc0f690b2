package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// AdminRealm names the protection space in WWW-Authenticate challenges.
const AdminRealm = "giftagg-admin"

// Scope is the access level an admin key grants.
type Scope int

const (
	// ScopeRead allows job lookups and the audit log.
	ScopeRead Scope = iota + 1
	// ScopeWrite additionally allows triggering and cancelling runs.
	ScopeWrite
)

// AuthConfig lists the accepted admin keys. With no keys at all the
// middleware lets every request through.
type AuthConfig struct {
	WriteKey string
	ReadKeys []string
}

type adminKey struct {
	digest [sha256.Size]byte
	scope  Scope
	id     string
}

type keyIDCtx struct{}

// KeyID returns the fingerprint of the admin key that authenticated the
// request, or "" when none did.
func KeyID(ctx context.Context) string {
	id, _ := ctx.Value(keyIDCtx{}).(string)
	return id
}

// Auth guards the admin routes. A key is taken from "Authorization: Bearer"
// or X-API-Key. Safe methods need ScopeRead; anything else needs ScopeWrite,
// so a read-only key on POST gets 403 rather than 401.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := compileKeys(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				challenge(w, "", "missing admin key")
				return
			}
			key, ok := match(keys, token)
			if !ok {
				challenge(w, "invalid_token", "invalid admin key")
				return
			}
			if key.scope < requiredScope(r.Method) {
				writeAuthError(w, http.StatusForbidden, "admin key is read-only")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyIDCtx{}, key.id)))
		})
	}
}

func compileKeys(cfg AuthConfig) []adminKey {
	var out []adminKey
	add := func(k string, scope Scope) {
		k = strings.TrimSpace(k)
		if k == "" {
			return
		}
		d := sha256.Sum256([]byte(k))
		out = append(out, adminKey{digest: d, scope: scope, id: hex.EncodeToString(d[:4])})
	}
	add(cfg.WriteKey, ScopeWrite)
	for _, k := range cfg.ReadKeys {
		add(k, ScopeRead)
	}
	return out
}

// match compares digests so every comparison takes the same time whatever
// the token length. All keys are checked.
func match(keys []adminKey, token string) (adminKey, bool) {
	d := sha256.Sum256([]byte(token))
	var found adminKey
	ok := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare(d[:], k.digest[:]) == 1 {
			found, ok = k, true
		}
	}
	return found, ok
}

func requiredScope(method string) Scope {
	switch method {
	case http.MethodGet, http.MethodHead:
		return ScopeRead
	default:
		return ScopeWrite
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func challenge(w http.ResponseWriter, code, msg string) {
	v := `Bearer realm="` + AdminRealm + `"`
	if code != "" {
		v += `, error="` + code + `"`
	}
	w.Header().Set("WWW-Authenticate", v)
	writeAuthError(w, http.StatusUnauthorized, msg)
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
