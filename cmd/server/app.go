package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/tasksync/internal/alarm"
	"github.com/phrazzld/tasksync/internal/bindingfile"
	"github.com/phrazzld/tasksync/internal/changetrack"
	"github.com/phrazzld/tasksync/internal/config"
	"github.com/phrazzld/tasksync/internal/coordinator"
	"github.com/phrazzld/tasksync/internal/credentials"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/domain/recurrence"
	"github.com/phrazzld/tasksync/internal/events"
	"github.com/phrazzld/tasksync/internal/jobs"
	"github.com/phrazzld/tasksync/internal/ledger"
	"github.com/phrazzld/tasksync/internal/platform/postgres"
	"github.com/phrazzld/tasksync/internal/provider"
	"github.com/phrazzld/tasksync/internal/provider/caldav"
	"github.com/phrazzld/tasksync/internal/provider/googletasks"
	"github.com/phrazzld/tasksync/internal/reconcile"
	"github.com/phrazzld/tasksync/internal/service"
	"github.com/phrazzld/tasksync/internal/service/auth"
	"github.com/phrazzld/tasksync/internal/store"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	tasksapi "google.golang.org/api/tasks/v1"
)

// broadcastBuffer is the per-subscriber event buffer of the stream endpoint.
const broadcastBuffer = 64

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores
	taskStore       store.TaskStore
	bindingStore    store.BindingStore
	snapshotStore   store.SnapshotStore
	tombstoneStore  store.TombstoneStore
	triggerStore    store.TriggerStore
	jobStore        store.JobStore
	credentialStore store.CredentialStore

	// Sync engine
	vault       *credentials.Vault
	registry    *provider.Registry
	tracker     *changetrack.Tracker
	ledger      *ledger.Ledger
	reconciler  *reconcile.Reconciler
	coordinator *coordinator.Coordinator

	// Alarms
	alarms    *alarm.Scheduler
	jobRunner *jobs.Runner

	// Events
	eventEmitter *events.InMemoryEventEmitter
	broadcaster  *events.Broadcaster

	// Services
	jwtService     auth.JWTService
	taskService    service.TaskService
	bindingService service.BindingService
}

// newApplication creates a new application instance with all dependencies initialized.
// Nothing runs in the background until Run is called.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	// Stores run unchanged on PostgreSQL and SQLite.
	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.bindingStore = postgres.NewPostgresBindingStore(db, logger)
	app.snapshotStore = postgres.NewPostgresSnapshotStore(db, logger)
	app.tombstoneStore = postgres.NewPostgresTombstoneStore(db, logger)
	app.triggerStore = postgres.NewPostgresTriggerStore(db, logger)
	app.jobStore = postgres.NewPostgresJobStore(db, logger)
	app.credentialStore = postgres.NewPostgresCredentialStore(db, logger)
	transactor := store.DBTransactor{DB: db}

	app.vault, err = credentials.NewVault(app.credentialStore, cfg.Credentials.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential vault: %w", err)
	}

	app.registry = provider.NewRegistry()
	app.registry.Register(domain.ProviderCalDAV,
		caldav.NewFactory(app.vault, app.snapshotStore, cfg.CalDAV.RequestTimeout, logger))
	app.registry.Register(domain.ProviderGoogleTasks,
		googletasks.NewFactory(app.vault, app.snapshotStore, googleOAuthConfig(cfg.Google), cfg.Google.RequestsPerSecond, logger))

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)
	app.broadcaster = events.NewBroadcaster(broadcastBuffer, logger)

	app.tracker = changetrack.NewTracker(app.taskStore, logger)
	app.ledger = ledger.New(app.tombstoneStore, app.taskStore, cfg.Sync.TombstoneRetention, logger)
	app.reconciler = reconcile.NewReconciler(
		app.taskStore,
		app.bindingStore,
		app.snapshotStore,
		transactor,
		app.tracker,
		app.ledger,
		logger,
	)
	app.coordinator = coordinator.New(
		app.bindingStore,
		app.registry,
		app.reconciler,
		app.ledger,
		app.eventEmitter,
		coordinator.Config{
			Interval:           cfg.Sync.Interval,
			MaxConcurrentLists: cfg.Sync.MaxConcurrentLists,
			PassTimeout:        cfg.Sync.PassTimeout,
			RetryBaseDelay:     cfg.Sync.RetryBaseDelay,
			MaxRetries:         cfg.Sync.MaxRetries,
		},
		logger,
	)

	location, err := time.LoadLocation(cfg.Alarms.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid alarm timezone %q: %w", cfg.Alarms.Timezone, err)
	}
	app.jobRunner = jobs.NewRunner(app.jobStore, nil, jobs.Config{
		WorkerCount:  cfg.Jobs.WorkerCount,
		QueueSize:    cfg.Jobs.QueueSize,
		PollInterval: cfg.Jobs.PollInterval,
		StuckJobAge:  cfg.Jobs.StuckJobAge,
	}, logger)
	app.alarms = alarm.NewScheduler(
		app.triggerStore,
		app.taskStore,
		app.jobRunner,
		alarm.EventSink{Emitter: app.eventEmitter},
		alarm.Config{
			DefaultReminderHour: cfg.Alarms.DefaultReminderHour,
			Location:            location,
		},
		logger,
	)
	app.jobRunner.SetHandler(app.alarms)

	app.taskService, err = service.NewTaskService(
		app.taskStore,
		app.bindingStore,
		app.tracker,
		app.ledger,
		transactor,
		recurrence.NewDefaultService(),
		app.alarms,
		app.coordinator,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	app.bindingService, err = service.NewBindingService(
		app.bindingStore,
		app.taskStore,
		app.snapshotStore,
		app.ledger,
		transactor,
		app.vault,
		app.coordinator,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create binding service: %w", err)
	}

	// Stream subscribers, alarm upkeep after remote edits, and list counts.
	app.eventEmitter.RegisterHandler(app.broadcaster)
	app.eventEmitter.RegisterHandler(service.NewAlarmRefresher(app.taskStore, app.alarms, logger))
	app.eventEmitter.RegisterHandler(events.NewRefreshHandler(
		app.taskStore,
		events.EmittingNotifier{Emitter: app.eventEmitter},
		logger,
	))

	logger.Info("application initialized",
		slog.Int("providers", 2),
		slog.Bool("bindings_file", cfg.Sync.BindingsFile != ""))
	return app, nil
}

// googleOAuthConfig builds the OAuth client used to refresh Google tokens.
func googleOAuthConfig(cfg config.GoogleConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{tasksapi.TasksScope},
	}
}

// Run starts the background workers and the HTTP server and blocks until
// ctx is done or the server fails.
func (app *application) Run(ctx context.Context) error {
	if err := app.jobRunner.Start(); err != nil {
		app.cleanup()
		return fmt.Errorf("failed to start job runner: %w", err)
	}
	app.coordinator.Start(ctx)

	if path := app.config.Sync.BindingsFile; path != "" {
		watcher := bindingfile.NewWatcher(path, bindingfile.NewApplier(app.bindingService, app.logger), app.logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				app.logger.Error("bindings file watcher stopped",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}()
	}

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.coordinator != nil {
		app.coordinator.Stop()
	}
	if app.jobRunner != nil {
		app.jobRunner.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}

	app.logger.Info("application shutdown completed")
}
