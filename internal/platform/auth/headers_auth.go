package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HeadersAuthenticator trusts the X-Camgate-* identity headers only when
// they arrive with a fresh, valid HMAC from the edge gateway.
type HeadersAuthenticator struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

func NewHeadersAuthenticator(cfg Config) (*HeadersAuthenticator, error) {
	if strings.TrimSpace(cfg.InternalAuthSecret) == "" {
		return nil, fmt.Errorf("internal auth secret is required")
	}
	return &HeadersAuthenticator{
		secret:  cfg.InternalAuthSecret,
		maxSkew: cfg.InternalAuthMaxSkew,
		now:     time.Now,
	}, nil
}

func (a *HeadersAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}
	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	rolesRaw := strings.TrimSpace(r.Header.Get(HeaderRoles))
	ts := r.Header.Get(HeaderInternalAuthTimestamp)
	sig := r.Header.Get(HeaderInternalAuthSignature)

	if err := VerifyInternalAuthTimestamp(ts, a.now().UTC(), a.maxSkew); err != nil {
		return Identity{}, fmt.Errorf("internal auth: %w", err)
	}
	requestID := r.Header.Get("X-Request-Id")
	if err := VerifyInternalAuthSignature(a.secret, ts, r.Method, r.URL.Path, requestID, subject, email, rolesRaw, sig); err != nil {
		return Identity{}, fmt.Errorf("internal auth: %w", err)
	}

	return Identity{
		Subject: subject,
		Email:   email,
		Roles:   parseCSV(rolesRaw),
	}, nil
}
