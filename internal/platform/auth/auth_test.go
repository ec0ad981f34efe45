package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestHasAtLeast(t *testing.T) {
	cases := []struct {
		roles    []string
		required string
		want     bool
	}{
		{[]string{"operator"}, RoleOperator, true},
		{[]string{"operator"}, RoleMentor, false},
		{[]string{"mentor"}, RoleOperator, true},
		{[]string{"Admin"}, RoleMentor, true},
		{[]string{"visitor"}, RoleOperator, false},
		{nil, RoleOperator, false},
		{[]string{"admin"}, "nonexistent", false},
	}
	for _, tc := range cases {
		if got := HasAtLeast(tc.roles, tc.required); got != tc.want {
			t.Fatalf("HasAtLeast(%v, %q)=%v want %v", tc.roles, tc.required, got, tc.want)
		}
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	get := httptest.NewRequest(http.MethodGet, "/runs", nil)
	if RequiredRoleForRequest(get) != RoleOperator {
		t.Fatalf("GET /runs should need operator")
	}
	create := httptest.NewRequest(http.MethodPost, "/runs", nil)
	if RequiredRoleForRequest(create) != RoleOperator {
		t.Fatalf("POST /runs should need operator")
	}
	setMode := httptest.NewRequest(http.MethodPost, "/safety/mode", nil)
	if RequiredRoleForRequest(setMode) != RoleMentor {
		t.Fatalf("POST /safety/mode should need mentor")
	}
	mint := httptest.NewRequest(http.MethodPost, "/safety/create-override", nil)
	if RequiredRoleForRequest(mint) != RoleMentor {
		t.Fatalf("POST /safety/create-override should need mentor")
	}
	readMode := httptest.NewRequest(http.MethodGet, "/safety/mode", nil)
	if RequiredRoleForRequest(readMode) != RoleOperator {
		t.Fatalf("GET /safety/mode should need operator")
	}
}

type stubAuthenticator struct {
	identity Identity
	err      error
}

func (s stubAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return s.identity, s.err
}

func TestMiddlewareDeniesUnauthenticated(t *testing.T) {
	var audited []DenyEvent
	mw := Middleware{
		Authenticator: stubAuthenticator{err: ErrUnauthenticated},
		Authorize:     MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event DenyEvent) error {
			audited = append(audited, event)
			return nil
		},
	}
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if len(audited) != 1 || audited[0].Reason != "unauthenticated" {
		t.Fatalf("audited=%+v", audited)
	}
}

func TestMiddlewareEnforcesRoles(t *testing.T) {
	mw := Middleware{
		Authenticator: stubAuthenticator{identity: Identity{Subject: "op-1", Roles: []string{"operator"}}},
		Authorize:     MethodRoleAuthorizer(),
	}

	var sawIdentity Identity
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawIdentity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("operator POST /runs status=%d", rec.Code)
	}
	if sawIdentity.Subject != "op-1" {
		t.Fatalf("identity not propagated: %+v", sawIdentity)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/safety/mode", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("operator POST /safety/mode status=%d, want 403", rec.Code)
	}
}

func TestMiddlewareSkipPrefixes(t *testing.T) {
	mw := Middleware{
		Authenticator: stubAuthenticator{err: ErrUnauthenticated},
		SkipPrefixes:  []string{"/healthz"},
	}
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("skipped prefix status=%d", rec.Code)
	}
}

func TestInternalAuthSignatureRoundTrip(t *testing.T) {
	const secret = "shared-secret"
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := ComputeInternalAuthSignature(secret, ts, "POST", "/runs", "req-1", "op-1", "op@example.local", "operator")
	if err != nil {
		t.Fatalf("Compute err=%v", err)
	}
	if err := VerifyInternalAuthSignature(secret, ts, "POST", "/runs", "req-1", "op-1", "op@example.local", "operator", sig); err != nil {
		t.Fatalf("Verify err=%v", err)
	}
	if err := VerifyInternalAuthSignature(secret, ts, "POST", "/safety/mode", "req-1", "op-1", "op@example.local", "operator", sig); err == nil {
		t.Fatalf("signature must bind the path")
	}
	if err := VerifyInternalAuthSignature("other-secret", ts, "POST", "/runs", "req-1", "op-1", "op@example.local", "operator", sig); err == nil {
		t.Fatalf("signature must bind the secret")
	}
}

func TestHeadersAuthenticator(t *testing.T) {
	cfg := Config{Mode: ModeHeaders, InternalAuthSecret: "shared-secret", InternalAuthMaxSkew: time.Minute}
	authn, err := NewHeadersAuthenticator(cfg)
	if err != nil {
		t.Fatalf("NewHeadersAuthenticator err=%v", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := ComputeInternalAuthSignature(cfg.InternalAuthSecret, ts, "GET", "/runs", "req-1", "op-1", "op@example.local", "operator,mentor")
	if err != nil {
		t.Fatalf("Compute err=%v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/runs", nil)
	r.Header.Set(HeaderSubject, "op-1")
	r.Header.Set(HeaderEmail, "op@example.local")
	r.Header.Set(HeaderRoles, "operator,mentor")
	r.Header.Set(HeaderInternalAuthTimestamp, ts)
	r.Header.Set(HeaderInternalAuthSignature, sig)
	r.Header.Set("X-Request-Id", "req-1")

	identity, err := authn.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate err=%v", err)
	}
	if identity.Subject != "op-1" || len(identity.Roles) != 2 {
		t.Fatalf("identity=%+v", identity)
	}

	// Tampered roles header must fail the signature check.
	r.Header.Set(HeaderRoles, "admin")
	if _, err := authn.Authenticate(context.Background(), r); err == nil {
		t.Fatalf("tampered headers accepted")
	}

	// Missing subject is plain unauthenticated.
	bare := httptest.NewRequest(http.MethodGet, "/runs", nil)
	if _, err := authn.Authenticate(context.Background(), bare); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("bare request err=%v, want ErrUnauthenticated", err)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := Config{Mode: ModeOIDC}
	if err := bad.Validate(); err == nil {
		t.Fatalf("oidc mode without issuer must fail")
	}
	ok := Config{Mode: ModeDev, DevSubject: "dev", DevRoles: []string{"admin"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("dev config err=%v", err)
	}
	if err := (Config{Mode: ModeHeaders}).Validate(); err == nil {
		t.Fatalf("headers mode without secret must fail")
	}
}
