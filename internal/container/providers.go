package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/approval"
	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/external/exchange"
	"github.com/garyjia/expense-approval/internal/infrastructure/external/openai"
	"github.com/garyjia/expense-approval/internal/infrastructure/metrics"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/internal/infrastructure/worker"
	"github.com/garyjia/expense-approval/internal/report"
	"github.com/garyjia/expense-approval/pkg/database"
)

// ExternalBundle holds the adapters that talk to outside services.
type ExternalBundle struct {
	Redis     redis.UniversalClient
	Converter port.CurrencyConverter
	Extractor port.ReceiptExtractor
}

// ProvideDatabase opens the database, runs the embedded migrations and
// returns the transaction manager.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*sqlite.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := sqlite.Open(ctx, database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Company:  repository.NewCompanyRepository(db.DB, logger),
		User:     repository.NewUserRepository(db.DB, logger),
		Category: repository.NewCategoryRepository(db.DB, logger),
		Rule:     repository.NewRuleRepository(db.DB, logger),
		Expense:  repository.NewExpenseRepository(db.DB, logger),
		Workflow: repository.NewWorkflowRepository(db.DB, logger),
		Step:     repository.NewStepRepository(db.DB, logger),
		Request:  repository.NewRequestRepository(db.DB, logger),
	}, nil
}

// ProvideExternal creates the rate converter (with an optional Redis cache)
// and the receipt extractor.
func ProvideExternal(ctx context.Context, cfg *Config, logger *zap.Logger) (*ExternalBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	bundle := &ExternalBundle{}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			// the converter degrades to its in-process cache
			logger.Warn("Redis unavailable, rate cache is local only",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		bundle.Redis = client
	}

	bundle.Converter = exchange.NewConverter(exchange.Config{
		BaseURL:  cfg.Currency.APIURL,
		Timeout:  cfg.Currency.Timeout,
		CacheTTL: cfg.Currency.CacheTTL,
	}, bundle.Redis, logger.Named("exchange"))

	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OpenAI API key not set, receipt extraction disabled")
		bundle.Extractor = disabledExtractor{}
		return bundle, nil
	}

	prompts, err := openai.LoadPrompts(cfg.OpenAI.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	bundle.Extractor = openai.NewReceiptExtractor(openai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
	}, prompts, logger.Named("openai"))

	return bundle, nil
}

// disabledExtractor reads nothing from receipts
type disabledExtractor struct{}

func (disabledExtractor) Extract(context.Context, []byte, string) (*entity.ReceiptData, error) {
	return &entity.ReceiptData{}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
	), nil
}

// ProvideMetrics registers the Prometheus collectors and subscribes the
// recorder to workflow events.
func ProvideMetrics(reg *prometheus.Registry, d dispatcher.Dispatcher) *metrics.Recorder {
	recorder := metrics.NewRecorder(reg)
	recorder.Subscribe(d)
	return recorder
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the planner, resolver and workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (approval.WorkflowEngine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	resolver := approval.NewResolver(deps.Repos.User, deps.Logger.Named("resolver"))
	planner := approval.NewPlanner(deps.Repos.Rule, resolver, deps.Logger.Named("planner"))

	return approval.NewEngine(
		planner,
		approval.Repositories{
			Workflows: deps.Repos.Workflow,
			Steps:     deps.Repos.Step,
			Requests:  deps.Repos.Request,
			Expenses:  deps.Repos.Expense,
		},
		deps.TxManager,
		deps.Logger.Named("engine"),
		approval.WithDispatcher(deps.Dispatcher),
	), nil
}

// ServiceDeps holds dependencies required for creating application services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	External  *ExternalBundle
	Engine    approval.WorkflowEngine
	TxManager port.TransactionManager
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil || deps.External == nil || deps.Engine == nil {
		return nil, fmt.Errorf("repositories, external adapters and engine are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger.Named("service")}

	return &ServiceBundle{
		Expense: service.NewExpenseService(
			deps.Repos.Expense,
			deps.Repos.Company,
			deps.External.Converter,
			deps.External.Extractor,
			deps.Engine,
			deps.TxManager,
			serviceLogger,
		),
		Approval: service.NewApprovalService(
			deps.Engine,
			deps.Repos.Request,
			report.NewPendingReport(deps.Logger.Named("report")),
			serviceLogger,
		),
	}, nil
}

// ProvideWorkers registers the background workers. The backlog worker only
// runs when metrics are enabled since the gauge is its sole consumer.
func ProvideWorkers(cfg *Config, repos *RepositoryBundle, recorder *metrics.Recorder, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger.Named("worker"))

	if recorder != nil {
		manager.Register(worker.NewBacklogWorker(
			cfg.BacklogInterval,
			repos.Workflow,
			recorder,
			logger.Named("backlog"),
		))
	}

	return manager
}
