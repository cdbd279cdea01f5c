package callback

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"examsync/internal/config"
)

// Validator checks inbound callback credentials against the single
// scheme configured for the deployment. It never panics and never reads
// the body; an unknown scheme rejects everything.
type Validator struct {
	cfg config.CallbackAuth
}

func NewValidator(cfg config.CallbackAuth) *Validator {
	if cfg.Scheme == "none" {
		log.Printf("callback: auth scheme 'none' active; all deliveries accepted unauthenticated")
	}
	return &Validator{cfg: cfg}
}

// Accept reports whether the request headers carry a valid credential.
func (v *Validator) Accept(h http.Header) bool {
	switch v.cfg.Scheme {
	case "none":
		return true
	case "bearer":
		got := h.Get("Authorization")
		if strings.HasPrefix(strings.ToLower(got), "bearer ") {
			got = strings.TrimSpace(got[len("bearer "):])
		}
		return equal(got, v.cfg.Token)
	case "api-token":
		name := v.cfg.TokenHeader
		if name == "" {
			name = "X-Api-Token"
		}
		return equal(h.Get(name), v.cfg.Token)
	case "key-secret":
		return equal(h.Get("key"), v.cfg.Key) && equal(h.Get("secret"), v.cfg.Secret)
	case "custom":
		if v.cfg.Header == "" {
			return false
		}
		return equal(h.Get(v.cfg.Header), v.cfg.HeaderValue)
	default:
		// fail closed
		return false
	}
}

func equal(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
