package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"chatloom/pkg/api"
	"chatloom/pkg/api/handlers"
	"chatloom/pkg/auth"
	"chatloom/pkg/banner"
	"chatloom/pkg/chat"
	"chatloom/pkg/config"
	"chatloom/pkg/llm"
	"chatloom/pkg/logger"
	"chatloom/pkg/shutdown"
	"chatloom/pkg/store"
	"chatloom/pkg/validation"

	"chatloom/internal/retention"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.Logging.Level)
	defer logger.Sync()

	// flags win over env/config
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := cfg.Server.DBPath
	if dbPath == "" || setFlags["db"] {
		dbPath = dbVal
	}

	config.SetRuntime(config.DeriveRuntime(cfg))

	if err := store.Open(dbPath); err != nil {
		shutdown.Abort("open store", err, dbPath)
	}
	prometheus.MustRegister(store.NewCollector())

	svc := &chat.Service{
		Engine:            llm.NewOpenAIEngine(cfg.LLM),
		MaxToolIterations: cfg.LLM.MaxToolIterations,
		ParallelTools:     cfg.Chat.ParallelTools,
		TitleMaxRunes:     cfg.Chat.TitleMaxRunes,
		Production:        cfg.Production(),
	}
	limits := validation.DefaultLimits
	if cfg.Chat.MaxTextBytes > 0 {
		limits.MaxTextBytes = int(cfg.Chat.MaxTextBytes.Int64())
	}
	if cfg.Chat.MaxFilenameLen > 0 {
		limits.MaxFilenameLen = cfg.Chat.MaxFilenameLen
	}

	router := api.NewRouter(api.Deps{
		Chat:    handlers.ChatDeps{Service: svc, Limits: limits},
		Version: version,
	})

	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
		IPWhitelist:    append([]string{}, cfg.Security.IPWhitelist...),
		BackendKeys:    map[string]struct{}{},
		FrontendKeys:   map[string]struct{}{},
		AdminKeys:      map[string]struct{}{},
	}
	for _, k := range cfg.Security.APIKeys.Backend {
		secCfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		secCfg.FrontendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		secCfg.AdminKeys[k] = struct{}{}
	}
	handler := auth.AuthenticateRequestMiddleware(secCfg)(router)

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	retCancel, err := retention.Start(ctx, cfg.Retention)
	if err != nil {
		shutdown.Abort("start retention", err, dbPath)
	}
	defer retCancel()

	var srcs []string
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, err := config.Load(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}
	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr += " @ " + buildDate
	}
	banner.Print(cfg, addr, dbPath, strings.Join(srcs, ", "), verStr)

	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		cert := cfg.Server.TLS.CertFile
		key := cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()
	logger.Info("server_started", "addr", addr, "version", verStr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", "error", err.Error())
		}
	case <-ctx.Done():
		logger.Info("server_stopping")
		shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Error("server_shutdown_error", "error", err.Error())
		}
	}

	if err := store.Close(); err != nil {
		logger.Error("store_close_error", "error", err.Error())
	}
}
