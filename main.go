package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"notechart/adapters/sqlstore"
	"notechart/internal/api"
	"notechart/internal/config"
	"notechart/internal/container"
	"notechart/internal/logger"
	"notechart/internal/policywatch"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("server stopped", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, lg *logger.Logger) error {
	db, err := sqlstore.OpenAndMigrate(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	c, err := container.New(cfg, lg)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.InitWithDatabase(ctx, db); err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}

	stopWatch, err := startPolicyWatch(ctx, cfg.Policy, c.Reloader, lg)
	if err != nil {
		return err
	}
	defer stopWatch()

	gin.SetMode(cfg.Server.GinMode)
	handler := api.NewHandler(c.Analysis, c.Policies, c.Reloader, lg)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(api.NewRouter(handler, lg), cfg.Server.RequestTimeout),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		lg.Info("notechart listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter mounts the gin API under /api behind the chi middleware stack
func newRouter(apiHandler http.Handler, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/api", http.StripPrefix("/api", apiHandler))
	return r
}

// startPolicyWatch follows the policy file with fsnotify and, when a cron
// spec is set, re-reads it on schedule as well
func startPolicyWatch(ctx context.Context, pc config.PolicyConfig, reloader *policywatch.Reloader, lg *logger.Logger) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}
	if pc.Path == "" {
		return stopAll, nil
	}

	if pc.Watch {
		w, err := policywatch.NewWatcher(reloader, policywatch.DefaultDebounce)
		if err != nil {
			return nil, err
		}
		if err := w.Start(ctx); err != nil {
			lg.Warn("policy file watch unavailable", "path", pc.Path, "error", err)
		}
		stops = append(stops, w.Stop)
	}
	if pc.ReloadCron != "" {
		s, err := policywatch.NewSchedule(reloader, pc.ReloadCron)
		if err != nil {
			stopAll()
			return nil, err
		}
		s.Start()
		stops = append(stops, s.Stop)
	}
	return stopAll, nil
}
