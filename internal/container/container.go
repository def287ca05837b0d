package container

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"notechart/adapters/cache"
	"notechart/adapters/llm"
	"notechart/adapters/sqlstore"
	"notechart/app"
	"notechart/domain/policy"
	"notechart/internal/config"
	"notechart/internal/exemplar"
	"notechart/internal/inference"
	"notechart/internal/logger"
	"notechart/internal/policywatch"
	"notechart/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	// Infrastructure
	DB *sqlx.DB

	// Data access
	Notes ports.NoteSource
	Cache ports.ResultCache

	// Policy and inference
	Policies     *policy.Store
	Reloader     *policywatch.Reloader
	Exemplars    *exemplar.Set
	Orchestrator *inference.Orchestrator

	Analysis *app.AnalysisService

	closers []func() error
}

// New creates a new dependency injection container
func New(cfg *config.Config, log *logger.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Container{Config: cfg, Logger: log}, nil
}

// InitWithDatabase serves notes from db and initializes everything else
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}
	c.DB = db
	return c.Init(ctx, sqlstore.NewNoteStore(db))
}

// Init wires the analysis pipeline on top of notes
func (c *Container) Init(ctx context.Context, notes ports.NoteSource) error {
	c.Notes = notes

	if err := c.initPolicy(); err != nil {
		return fmt.Errorf("failed to initialize policy: %w", err)
	}
	if err := c.initCache(ctx); err != nil {
		return fmt.Errorf("failed to initialize result cache: %w", err)
	}
	if err := c.initInference(); err != nil {
		return fmt.Errorf("failed to initialize inference: %w", err)
	}

	c.Analysis = app.NewAnalysisService(c.Notes, c.Cache, c.Policies, c.Orchestrator, app.AnalysisConfig{
		SampleLimit:   c.Config.Analysis.SampleLimit,
		CacheTTL:      c.Config.Cache.TTL,
		MaxConcurrent: c.Config.Analysis.MaxConcurrent,
	}, c.Logger)

	c.Logger.Info("container initialized",
		"policy_version", c.Policies.Current().Version,
		"exemplar_version", c.Exemplars.Version,
		"cache", c.Config.Cache.Backend)
	return nil
}

// initPolicy loads the policy file when one is configured, else the defaults
func (c *Container) initPolicy() error {
	c.Policies = policy.NewStore(policy.Default())
	c.Reloader = policywatch.NewReloader(c.Policies, c.Config.Policy.Path, c.Logger)
	if c.Config.Policy.Path == "" {
		return nil
	}
	_, err := c.Reloader.Reload()
	return err
}

func (c *Container) initCache(ctx context.Context) error {
	switch c.Config.Cache.Backend {
	case "redis":
		r, err := cache.NewRedis(ctx, c.Config.Cache.RedisAddr)
		if err != nil {
			return err
		}
		c.Cache = r
		c.closers = append(c.closers, r.Close)
	case "sql":
		if c.DB == nil {
			return fmt.Errorf("sql cache requires a database")
		}
		c.Cache = sqlstore.NewResultStore(c.DB)
	default:
		c.Cache = cache.NewMemory()
	}
	return nil
}

// initInference builds the stage orchestrator. Without credentials it still
// exists and every stage degrades to rule-based selection.
func (c *Container) initInference() error {
	set, err := exemplar.Load()
	if err != nil {
		return err
	}
	c.Exemplars = set

	var client ports.InferenceClient
	ic := c.Config.Inference
	chat, err := llm.NewClient(llm.Config{
		APIKey:      ic.APIKey,
		BaseURL:     ic.BaseURL,
		Model:       ic.Model,
		MaxTokens:   ic.MaxTokens,
		Temperature: ic.Temperature,
		Timeout:     ic.StageTimeout + 5*time.Second,
	})
	if err != nil {
		c.Logger.Warn("inference disabled, using rule-based selection", "error", err)
	} else {
		client = llm.NewInference(chat, c.Logger)
	}

	orch, err := inference.NewOrchestrator(client, set, inference.Config{
		StageTimeout:      ic.StageTimeout,
		ExemplarsPerStage: inference.DefaultConfig().ExemplarsPerStage,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Orchestrator = orch
	return nil
}

// Close releases the cache connection and the database
func (c *Container) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
