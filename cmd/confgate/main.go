package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/confgate/pkg/audit"
	"github.com/platinummonkey/confgate/pkg/config"
	"github.com/platinummonkey/confgate/pkg/configctl"
	"github.com/platinummonkey/confgate/pkg/observability"
	"github.com/platinummonkey/confgate/pkg/rbac"
	"github.com/platinummonkey/confgate/pkg/secrets"
)

func main() {
	startup := logrus.New()
	startup.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		startup.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Tracing
	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			startup.WithError(err).Fatal("failed to initialize OpenTelemetry")
		}
	}

	// Audit trail
	fileLog, err := audit.NewFileLog(audit.FileLogConfig{
		Dir:           cfg.Audit.Dir,
		MaxSize:       cfg.Audit.MaxFileSize,
		RetentionDays: cfg.Audit.RetentionDays,
	}, logger, metrics)
	if err != nil {
		startup.WithError(err).Fatal("failed to open audit log")
	}

	var sink audit.Sink = fileLog
	var auditDB *sql.DB
	if cfg.Audit.DatabaseURL != "" {
		auditDB, err = sql.Open(cfg.Audit.DatabaseDriver, cfg.Audit.DatabaseURL)
		if err != nil {
			startup.WithError(err).Fatal("failed to open audit database")
		}
		dbLog, err := audit.NewDBLog(auditDB, cfg.Audit.DatabaseDriver)
		if err != nil {
			startup.WithError(err).Fatal("failed to initialize audit database sink")
		}
		sink = audit.NewMultiLog(fileLog, dbLog)
		startup.WithField("driver", cfg.Audit.DatabaseDriver).Info("audit database sink enabled")
	}
	recorder := audit.NewRecorder(sink, logger, metrics)

	// Roles and assignments
	roleRegistry := rbac.NewRegistry()
	if cfg.RBAC.RoleFile != "" {
		count, err := rbac.RegisterRoleFile(roleRegistry, cfg.RBAC.RoleFile)
		if err != nil {
			startup.WithError(err).Fatal("failed to load role file")
		}
		startup.WithFields(logrus.Fields{"path": cfg.RBAC.RoleFile, "roles": count}).Info("custom roles loaded")
	}

	var assignments rbac.AssignmentStore
	if cfg.RBAC.RedisURL != "" {
		store, err := rbac.NewRedisAssignmentStore(rbac.RedisAssignmentConfig{URL: cfg.RBAC.RedisURL})
		if err != nil {
			startup.WithError(err).Fatal("failed to connect to Redis")
		}
		assignments = store
		startup.Info("role assignments stored in Redis")
	} else {
		assignments = rbac.NewMemoryAssignmentStore()
	}

	access := rbac.NewAccessControl(roleRegistry, assignments, recorder, metrics, rbac.AccessControlConfig{
		CacheSize: cfg.RBAC.CacheSize,
		CacheTTL:  cfg.RBAC.CacheTTL,
	})

	// Secrets
	var rotation *secrets.RotationManager
	if cfg.Secrets.MasterKey != "" {
		masterKey, err := cfg.MasterKeyBytes()
		if err != nil {
			startup.WithError(err).Fatal("failed to read master key")
		}
		backend, err := buildSecretsBackend(ctx, cfg, startup)
		if err != nil {
			startup.WithError(err).Fatal("failed to initialize secrets backend")
		}
		store, err := secrets.NewStore(secrets.StoreConfig{
			MasterKey:    masterKey,
			Backend:      backend,
			MetadataPath: cfg.Secrets.MetadataPath,
			KeyMetadata:  cfg.Secrets.KeyMetadata,
			Metrics:      metrics,
		})
		if err != nil {
			startup.WithError(err).Fatal("failed to initialize secret store")
		}
		rotation, err = secrets.NewRotationManager(store, secrets.RotationConfig{
			StatePath: cfg.Secrets.Dir + "/rotation-status.json",
			Grace:     cfg.Secrets.GracePeriod,
			Logger:    logger,
			Metrics:   metrics,
		})
		if err != nil {
			startup.WithError(err).Fatal("failed to initialize rotation manager")
		}
	} else {
		startup.Warn("CONFGATE_MASTER_KEY not set, secret rotation disabled")
	}

	// Service facade
	service, err := configctl.NewService(configctl.ServiceConfig{
		Registry:    roleRegistry,
		Assignments: assignments,
		Access:      access,
		Recorder:    recorder,
		Settings:    buildSettings(cfg),
		Rotation:    rotation,
		Environment: cfg.Server.Environment,
		Logger:      logger,
	})
	if err != nil {
		startup.WithError(err).Fatal("failed to build configuration service")
	}

	// Role file watcher
	var roleWatcher *configctl.RoleWatcher
	if cfg.RBAC.RoleFile != "" {
		roleWatcher, err = configctl.NewRoleWatcher(cfg.RBAC.RoleFile, roleRegistry, access, recorder, logger)
		if err != nil {
			startup.WithError(err).Fatal("failed to watch role file")
		}
		roleWatcher.Start(ctx)
	}

	// Grace period sweeper
	scheduler := cron.New()
	if rotation != nil {
		spec := fmt.Sprintf("@every %s", cfg.Secrets.SweepInterval)
		if _, err := scheduler.AddFunc(spec, func() {
			completed, err := rotation.CheckGracePeriods(context.Background())
			if err != nil {
				logger.WithError(err).Error("grace period sweep failed")
			}
			for _, name := range completed {
				recorder.Rotate(context.Background(), audit.RequestContext{UserID: "system"}, name, true, "")
			}
		}); err != nil {
			startup.WithError(err).Fatal("failed to schedule grace period sweep")
		}
		scheduler.Start()
	}

	// Admin HTTP surface: configuration operations plus audit queries
	router := mux.NewRouter()
	router.Use(configctl.RequestLogging(logger))
	configctl.NewHandlers(service, configctl.HeaderIdentity).RegisterRoutes(router)
	audit.NewHandlers(fileLog, authorizeAudit(access)).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "confgate-admin"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if rotation != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			stopCtx := scheduler.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		})
	}
	if roleWatcher != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return roleWatcher.Stop()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		if auditDB != nil {
			defer auditDB.Close()
		}
		return sink.Close()
	})

	go func() {
		startup.WithFields(logrus.Fields{
			"addr":        server.Addr,
			"environment": cfg.Server.Environment,
		}).Info("confgate admin server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("admin server failed")
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

// buildSecretsBackend selects the value store for encrypted secrets.
func buildSecretsBackend(ctx context.Context, cfg *config.Config, startup *logrus.Logger) (secrets.Backend, error) {
	switch cfg.Secrets.Backend {
	case "env":
		return secrets.NewEnvBackend(""), nil
	case "s3":
		return secrets.NewS3Backend(ctx, secrets.S3Config{
			Bucket:       cfg.Secrets.S3Bucket,
			Prefix:       cfg.Secrets.S3Prefix,
			Region:       cfg.Secrets.S3Region,
			Endpoint:     cfg.Secrets.S3Endpoint,
			AccessKey:    cfg.Secrets.S3AccessKey,
			SecretKey:    cfg.Secrets.S3SecretKey,
			UsePathStyle: cfg.Secrets.S3UsePathStyle,
		}, startup)
	default:
		return secrets.NewFileBackend(cfg.Secrets.Dir)
	}
}

// buildSettings declares the application fields this deployment guards.
// Values start from the environment; writes go through the service.
func buildSettings(cfg *config.Config) *configctl.MapSettings {
	s := configctl.NewMapSettings()
	s.Declare("app_name", envOr("APP_NAME", "confgate"))
	s.Declare("environment", cfg.Server.Environment)
	s.Declare("debug", envOr("APP_DEBUG", "false"))
	s.DeclareValidated("log_level", envOr("APP_LOG_LEVEL", "info"), func(_ string, value interface{}) error {
		switch value {
		case "debug", "info", "warn", "warning", "error":
			return nil
		}
		return fmt.Errorf("unknown log level %v", value)
	})
	s.Declare("frontend_url", envOr("APP_FRONTEND_URL", "http://localhost:3000"))
	s.Declare("cors_origins", envOr("APP_CORS_ORIGINS", "*"))
	s.Declare("database_url", envOr("APP_DATABASE_URL", ""))
	s.Declare("secret_key", envOr("APP_SECRET_KEY", ""))
	s.Declare("jwt_secret", envOr("APP_JWT_SECRET", ""))
	s.Declare("smtp_password", envOr("APP_SMTP_PASSWORD", ""))
	return s
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// authorizeAudit gates the audit HTTP endpoints on the caller's global
// audit permissions. The caller is identified by the X-Confgate-User
// header, set by the fronting proxy after authentication.
func authorizeAudit(access *rbac.AccessControl) audit.AuthorizeFunc {
	return func(r *http.Request, permission string) error {
		userID := r.Header.Get("X-Confgate-User")
		if userID == "" {
			return fmt.Errorf("missing X-Confgate-User header")
		}
		allowed, err := access.CheckGlobalPermission(r.Context(), userID, rbac.Permission(permission))
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("user %s lacks %s: %w", userID, permission, rbac.ErrPermissionDenied)
		}
		return nil
	}
}
