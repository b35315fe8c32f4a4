package warden

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"shipgate.sh/core/email"
	"shipgate.sh/core/log"
	"shipgate.sh/core/notifier"
	"shipgate.sh/core/policy"
	"shipgate.sh/core/rbac"
	"shipgate.sh/core/telemetry"
	"shipgate.sh/core/warden/config"
	"shipgate.sh/core/warden/db"
	"shipgate.sh/core/warden/engine"
)

type Warden struct {
	db  *db.DB
	e   *rbac.Enforcer
	l   *slog.Logger
	n   *notifier.Notifier
	eng *engine.Engine
	cfg *config.Config
	t   *telemetry.Telemetry
}

func Command() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "run the warden governance server",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return Run(ctx)
		},
		Description: `
Environment variables:
	WARDEN_SERVER_LISTEN_ADDR   (default: 0.0.0.0:7433)
	WARDEN_SERVER_DB_PATH       (default: warden.db)
	WARDEN_SERVER_POLICY_PATH   (approval thresholds, optional)
	WARDEN_SERVER_DEV           (default: false)
	WARDEN_EMAIL_API_KEY        (optional, enables approver emails)
	WARDEN_EMAIL_FROM           (default: warden@shipgate.sh)
`,
	}
}

func Run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	e, err := rbac.NewEnforcer(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup rbac enforcer: %w", err)
	}
	e.E.EnableAutoSave(true)

	var thresholds *policy.Thresholds
	if cfg.Server.PolicyPath != "" {
		thresholds, err = policy.LoadThresholds(cfg.Server.PolicyPath)
		if err != nil {
			return fmt.Errorf("failed to load approval policy: %w", err)
		}
	}

	n := notifier.New()

	eng := engine.New(ctx, d, &n, thresholds)
	eng.SetApproverChecker(e)
	if cfg.Email.APIKey != "" {
		eng.SetMailer(&email.Mailer{
			APIKey: cfg.Email.APIKey,
			From:   cfg.Email.From,
		})
	}

	t, err := telemetry.NewTelemetry(ctx, "warden", versioninfo.Short(), cfg.Server.Dev)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := t.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shut down telemetry", "error", err)
		}
	}()

	warden := Warden{
		db:  d,
		e:   e,
		l:   logger,
		n:   &n,
		eng: eng,
		cfg: cfg,
		t:   t,
	}

	logger.Info("starting warden server", "address", cfg.Server.ListenAddr)
	handler := otelhttp.NewHandler(warden.Router(), "warden")
	logger.Error("server error", "error", http.ListenAndServe(cfg.Server.ListenAddr, handler))

	return nil
}

func (s *Warden) Router() http.Handler {
	mux := chi.NewRouter()

	mux.Use(s.RequestLogger)
	mux.Use(s.t.RequestDuration())
	mux.Use(s.t.RequestInFlight())

	mux.Post("/webhook", s.Webhook)
	mux.HandleFunc("/events", s.Events)
	mux.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"version": versioninfo.Short(), "dev": s.cfg.Server.Dev})
	})

	mux.Get("/executions", s.ListExecutions)
	mux.Get("/executions/{id}", s.GetExecution)
	mux.Post("/executions/{id}/cancel", s.CancelExecution)

	mux.Post("/approvals/{id}/vote", s.SubmitVote)
	mux.Post("/checkpoints/{id}/rerun", s.RerunFromCheckpoint)

	mux.Put("/environments/{env}/lock", s.LockEnvironment)
	mux.Delete("/environments/{env}/lock", s.UnlockEnvironment)

	mux.Put("/integrations", s.AddIntegration)
	mux.Post("/integrations/{owner}/{name}/mappings", s.AddBranchMapping)
	mux.Post("/integrations/{owner}/{name}/rotate", s.RotateSecret)

	mux.Get("/audit", s.ListAudit)

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
