// Package auth authenticates governor requests and gates the privileged
// safety endpoints. Three modes: OIDC bearer verification for deployments,
// HMAC-signed internal headers for trusted gateway traffic, and a fixed dev
// identity for local work.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camgate-labs/camgate-go/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeHeaders  Mode = "headers"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	RolesClaim string
	EmailClaim string

	OIDCIssuerURL string
	OIDCClientID  string

	InternalAuthSecret  string
	InternalAuthMaxSkew time.Duration

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("CAMGATE_AUTH_MODE", string(ModeDev))))
	var mode Mode
	switch modeRaw {
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeHeaders):
		mode = ModeHeaders
	case string(ModeDev):
		mode = ModeDev
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("CAMGATE_AUTH_MODE must be one of: oidc, headers, dev, disabled (got %q)", modeRaw)
	}

	maxSkew, err := env.Duration("CAMGATE_AUTH_INTERNAL_MAX_SKEW", time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:                mode,
		RolesClaim:          env.String("CAMGATE_AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:          env.String("CAMGATE_AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL:       env.String("CAMGATE_OIDC_ISSUER_URL", ""),
		OIDCClientID:        env.String("CAMGATE_OIDC_CLIENT_ID", ""),
		InternalAuthSecret:  env.String("CAMGATE_AUTH_INTERNAL_SECRET", ""),
		InternalAuthMaxSkew: maxSkew,
		DevSubject:          env.String("CAMGATE_DEV_AUTH_SUBJECT", "dev-operator"),
		DevEmail:            env.String("CAMGATE_DEV_AUTH_EMAIL", "dev-operator@example.local"),
		DevRoles:            parseCSV(env.String("CAMGATE_DEV_AUTH_ROLES", "admin")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("CAMGATE_OIDC_ISSUER_URL is required when CAMGATE_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("CAMGATE_OIDC_CLIENT_ID is required when CAMGATE_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.RolesClaim) == "" {
			return errors.New("CAMGATE_AUTH_ROLES_CLAIM is required when CAMGATE_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.EmailClaim) == "" {
			return errors.New("CAMGATE_AUTH_EMAIL_CLAIM is required when CAMGATE_AUTH_MODE=oidc")
		}
	case ModeHeaders:
		if strings.TrimSpace(c.InternalAuthSecret) == "" {
			return errors.New("CAMGATE_AUTH_INTERNAL_SECRET is required when CAMGATE_AUTH_MODE=headers")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("CAMGATE_DEV_AUTH_SUBJECT is required when CAMGATE_AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("CAMGATE_DEV_AUTH_ROLES must be non-empty when CAMGATE_AUTH_MODE=dev")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
