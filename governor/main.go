// Governor is the manufacturing run governance service: it keeps the
// write-once run artifact record, classifies proposed actions through the
// feasibility gate, enforces the safety mode policy with one-time override
// tokens, and stores content-addressed attachments.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/camgate-labs/camgate-go/internal/attachments"
	"github.com/camgate-labs/camgate-go/internal/domain"
	"github.com/camgate-labs/camgate-go/internal/gate"
	"github.com/camgate-labs/camgate-go/internal/platform/auditlog"
	"github.com/camgate-labs/camgate-go/internal/platform/auth"
	"github.com/camgate-labs/camgate-go/internal/platform/env"
	"github.com/camgate-labs/camgate-go/internal/platform/httpserver"
	platformstore "github.com/camgate-labs/camgate-go/internal/platform/objectstore"
	"github.com/camgate-labs/camgate-go/internal/platform/postgres"
	"github.com/camgate-labs/camgate-go/internal/runstore"
	"github.com/camgate-labs/camgate-go/internal/safety"
	"github.com/camgate-labs/camgate-go/internal/service/runs"
	"github.com/camgate-labs/camgate-go/internal/storage/objectstore"
)

const serviceName = "governor"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", serviceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("service failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	httpAddr := env.String("CAMGATE_GOVERNOR_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("CAMGATE_GOVERNOR_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return err
	}

	storeCfg, err := runstore.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("run store config: %w", err)
	}
	store, err := runstore.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	var db *sql.DB
	if dbCfg.Enabled() {
		db, err = postgres.Open(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		logger.Info("database connected")
	} else {
		logger.Info("database disabled, audit log and run index off")
	}

	runSvc, err := runs.New(store, db, logger)
	if err != nil {
		return err
	}
	if partitioned, ok := store.(*runstore.PartitionedStore); ok {
		if lookup := runSvc.IndexLookup(); lookup != nil {
			partitioned.WithIndex(lookup)
		}
	}

	attachStore, minioClient, minioCfg, err := openAttachments(ctx, logger)
	if err != nil {
		return err
	}

	gateSpec, err := gate.LoadSpecFile(env.String("CAMGATE_GATE_SPEC_PATH", ""))
	if err != nil {
		return fmt.Errorf("gate spec: %w", err)
	}
	feasGate, err := gate.New(gateSpec)
	if err != nil {
		return fmt.Errorf("gate: %w", err)
	}

	initialMode := domain.NormalizeSafetyMode(env.String("CAMGATE_SAFETY_INITIAL_MODE", string(domain.ModeRestricted)))
	if initialMode == "" {
		return fmt.Errorf("CAMGATE_SAFETY_INITIAL_MODE is not a known safety mode")
	}
	modes, err := safety.NewModeController(env.String("CAMGATE_SAFETY_STATE_PATH", "data/safety_mode.json"), initialMode)
	if err != nil {
		return fmt.Errorf("safety mode controller: %w", err)
	}
	tokens := safety.NewMemoryTokenStore()
	engine := safety.NewEngine(modes, feasGate, tokens, logger)

	openapiJSON, err := loadOpenAPISpec(ctx)
	if err != nil {
		return fmt.Errorf("openapi spec: %w", err)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, readinessChecks(db, dbCfg, minioClient, minioCfg)...))

	api := newGovernorAPI(logger, runSvc, engine, modes, tokens, attachStore, openapiJSON)
	api.register(mux)

	handler, err := wrapAuth(ctx, logger, authCfg, db, mux)
	if err != nil {
		return err
	}

	logger.Info("governor starting",
		"addr", httpAddr,
		"runstore_root", storeCfg.Root,
		"runstore_layout", storeCfg.Layout,
		"auth_mode", authCfg.Mode,
		"safety_mode", modes.Mode())

	return httpserver.Run(ctx, logger, httpserver.Config{
		Service:         serviceName,
		Addr:            httpAddr,
		ShutdownTimeout: shutdownTimeout,
	}, httpserver.Wrap(logger, serviceName, handler))
}

// openAttachments selects the blob backend. The filesystem backend is the
// default; MinIO serves shared deployments.
func openAttachments(ctx context.Context, logger *slog.Logger) (*attachments.Store, *minioHandle, platformstore.Config, error) {
	backend := strings.ToLower(strings.TrimSpace(env.String("CAMGATE_ATTACHMENTS_BACKEND", "fs")))
	switch backend {
	case "fs":
		root := env.String("CAMGATE_ATTACHMENTS_ROOT", "data/attachments")
		fsStore, err := objectstore.NewFSStore(root)
		if err != nil {
			return nil, nil, platformstore.Config{}, fmt.Errorf("attachments fs store: %w", err)
		}
		store, err := attachments.NewStore(fsStore, "attachments")
		if err != nil {
			return nil, nil, platformstore.Config{}, err
		}
		logger.Info("attachments backend ready", "backend", "fs", "root", root)
		return store, nil, platformstore.Config{}, nil

	case "minio":
		cfg, err := platformstore.ConfigFromEnv()
		if err != nil {
			return nil, nil, platformstore.Config{}, fmt.Errorf("minio config: %w", err)
		}
		client, err := platformstore.NewMinIOClient(cfg)
		if err != nil {
			return nil, nil, platformstore.Config{}, fmt.Errorf("minio client: %w", err)
		}

		setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := platformstore.EnsureBuckets(setupCtx, client, cfg); err != nil {
			return nil, nil, platformstore.Config{}, fmt.Errorf("ensure buckets: %w", err)
		}

		minioStore, err := objectstore.NewMinioStoreWithClient(client)
		if err != nil {
			return nil, nil, platformstore.Config{}, err
		}
		store, err := attachments.NewStore(minioStore, cfg.BucketAttachments)
		if err != nil {
			return nil, nil, platformstore.Config{}, err
		}
		logger.Info("attachments backend ready", "backend", "minio", "endpoint", cfg.Endpoint)
		return store, &minioHandle{client: client}, cfg, nil

	default:
		return nil, nil, platformstore.Config{}, fmt.Errorf("CAMGATE_ATTACHMENTS_BACKEND must be fs or minio (got %q)", backend)
	}
}

// minioHandle exists so readiness checks can reach the raw client without
// threading it through the attachment store.
type minioHandle struct {
	client *minio.Client
}

func readinessChecks(db *sql.DB, dbCfg postgres.Config, handle *minioHandle, minioCfg platformstore.Config) []httpserver.ReadinessCheck {
	var checks []httpserver.ReadinessCheck
	if db != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				pingCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(pingCtx)
			},
		})
	}
	if handle != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return platformstore.CheckBuckets(checkCtx, handle.client, minioCfg)
			},
		})
	}
	return checks
}

// wrapAuth builds the authenticator for the configured mode and wraps the
// mux. Health probes and the API document stay open.
func wrapAuth(ctx context.Context, logger *slog.Logger, cfg auth.Config, db *sql.DB, mux *http.ServeMux) (http.Handler, error) {
	if cfg.Mode == auth.ModeDisabled {
		logger.Warn("request authentication disabled")
		return mux, nil
	}

	var authenticator auth.Authenticator
	var err error
	switch cfg.Mode {
	case auth.ModeOIDC:
		authenticator, err = auth.NewOIDCAuthenticator(ctx, cfg)
	case auth.ModeHeaders:
		authenticator, err = auth.NewHeadersAuthenticator(cfg)
	case auth.ModeDev:
		authenticator = auth.NewDevAuthenticator(cfg)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	middleware := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit:         authDenyAudit(db),
		SkipPrefixes:  []string{"/healthz", "/readyz", "/openapi.json"},
	}
	return middleware.Wrap(mux), nil
}

// authDenyAudit records rejected requests in the audit trail when the
// database is configured.
func authDenyAudit(db *sql.DB) auth.AuditFunc {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, event auth.DenyEvent) error {
		_, err := auditlog.Insert(ctx, db, auditlog.Event{
			OccurredAt:   event.Time,
			Actor:        actorOrUnknown(event.Subject),
			Action:       "auth.denied",
			ResourceType: "request",
			ResourceID:   event.Path,
			RequestID:    event.RequestID,
			UserAgent:    event.UserAgent,
			IP:           requestIP(event.RemoteAddr),
			Payload: map[string]any{
				"status": event.Status,
				"reason": event.Reason,
				"method": event.Method,
				"roles":  event.Roles,
			},
		})
		return err
	}
}

func actorOrUnknown(subject string) string {
	if strings.TrimSpace(subject) == "" {
		return "unknown"
	}
	return subject
}
