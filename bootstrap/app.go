// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package bootstrap initializes service dependencies and starts runtime workers.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lutfianrhdn/sc-data-gathering-service/app"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/brokergateway"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/crawllock"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/crawlworker"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/dbworker"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/http/middleware"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/broker"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/lockstore"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/schedule"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/trace"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/resultsstore"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/supervisor"
	"github.com/sk-pkg/feishu"
	"github.com/sk-pkg/i18n"
	"github.com/sk-pkg/logger"
	"github.com/sk-pkg/mysql"
	"github.com/sk-pkg/redis"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"
)

// App stores initialized dependencies required by HTTP APIs, schedulers, and
// the crawl pipeline.
type App struct {
	Config       *app.Config
	Logger       *logger.Manager
	Redis        map[string]*redis.Manager
	I18n         *i18n.Manager
	MysqlDB      map[string]*gorm.DB
	Mongo        *mongo.Client
	ResultsStore resultsstore.Store
	LockManager  crawllock.Manager
	DBClient     dbworker.Client
	Broker       *broker.Client
	Supervisor   *supervisor.Supervisor
	Schedule     *schedule.Schedule
	Middleware   middleware.Middleware
	Mux          *gin.Engine
	Feishu       *feishu.Manager
	TraceID      *trace.ID
}

// NewApp creates a fully initialized application container.
//
// Parameters:
//   - config: parsed runtime configuration loaded from JSON files.
//
// Returns:
//   - *App: initialized app with logger, redis, i18n, DB, middleware, and router.
//   - error: returned when any dependency initialization step fails.
//
// Example:
//
//	cfg, _ := app.LoadConfig()
//	a, err := bootstrap.NewApp(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
func NewApp(config *app.Config) (*App, error) {
	a := &App{Config: config, MysqlDB: map[string]*gorm.DB{}, Redis: map[string]*redis.Manager{}}

	// Trace IDs must be ready before logger initialization.
	a.loadTrace()

	ctx := context.WithValue(context.Background(), logger.TraceIDKey, a.TraceID.New())

	err := a.loadLogger(ctx)
	if err != nil {
		return nil, err
	}

	err = a.loadRedis(ctx)
	if err != nil {
		return nil, err
	}

	err = a.loadFeishu(ctx)
	if err != nil {
		return nil, err
	}

	err = a.loadI18n(ctx)
	if err != nil {
		return nil, err
	}

	err = a.loadDB(ctx)
	if err != nil {
		return nil, err
	}

	err = a.loadCrawlStack(ctx)
	if err != nil {
		return nil, err
	}

	err = a.loadSupervisor(ctx)
	if err != nil {
		return nil, err
	}

	a.loadSchedule(ctx)

	a.loadHTTPMiddlewares(ctx)
	a.loadMux(ctx)

	return a, nil
}

// Start launches all background subsystems of the application.
//
// Returns:
//   - None.
//
// Behavior:
//   - Starts HTTP server, schedule loop, and the crawl pipeline
//     supervisor concurrently.
func (a *App) Start(ctx context.Context) {
	traceCtx := context.WithValue(ctx, logger.TraceIDKey, a.TraceID.New())
	// Start the HTTP API server.
	go a.startHTTPServer(traceCtx)
	// Start the cron-like scheduler.
	go a.startSchedule(traceCtx)
	// Start the crawl pipeline: worker classes spawn, then the routing
	// loop runs until ctx is cancelled.
	if a.Supervisor != nil {
		a.Supervisor.Start(ctx)
	}
}

// loadTrace initializes the trace ID generator.
//
// Returns:
//   - None.
func (a *App) loadTrace() {
	a.TraceID = trace.NewTraceID()
}

// loadLogger initializes the logger manager.
//
// Parameters:
//   - ctx: trace-aware context used for initialization logs.
//
// Returns:
//   - error: returned when logger initialization fails.
func (a *App) loadLogger(ctx context.Context) error {
	var err error
	a.Logger, err = logger.New(
		logger.WithLevel(a.Config.Log.Level),
		logger.WithDriver(a.Config.Log.Driver),
		logger.WithLogPath(a.Config.Log.LogPath),
	)

	if err == nil {
		a.Logger.Info(ctx, "Loggers loaded successfully")
	}

	return err
}

// loadRedis initializes configured Redis clients and stores them by name.
//
// Parameters:
//   - ctx: trace-aware context used for initialization logs.
//
// Returns:
//   - error: returned when creating any enabled Redis client fails.
func (a *App) loadRedis(ctx context.Context) error {
	for _, cfg := range a.Config.Redis {
		if cfg.Enable {
			r, err := redis.New(
				redis.WithPrefix(cfg.Prefix),
				redis.WithAddress(cfg.Host),
				redis.WithPassword(cfg.Auth),
				redis.WithIdleTimeout(cfg.IdleTimeout*time.Minute),
				redis.WithMaxActive(cfg.MaxActive),
				redis.WithMaxIdle(cfg.MaxIdle),
				redis.WithDB(cfg.DB),
			)

			if err != nil {
				return err
			}

			a.Redis[cfg.Name] = r
		}
	}

	a.Logger.Info(ctx, "Redis loaded successfully")

	return nil
}

// loadI18n initializes the i18n manager from runtime configuration.
//
// Parameters:
//   - ctx: trace-aware context used for initialization logs.
//
// Returns:
//   - error: returned when i18n initialization fails.
func (a *App) loadI18n(ctx context.Context) error {
	var err error
	a.I18n, err = i18n.New(
		i18n.WithDebugMode(a.Config.System.DebugMode),
		i18n.WithEnvKey(a.Config.System.EnvKey),
		i18n.WithDefaultLang(a.Config.System.DefaultLang),
		i18n.WithLangDir(a.Config.System.LangDir),
	)

	if err == nil {
		a.Logger.Info(ctx, "I18n loaded successfully")
	}

	return err
}

// loadDB initializes all enabled databases.
//
// Parameters:
//   - ctx: trace-aware context used for initialization logs.
//
// Returns:
//   - error: returned when any configured database cannot be initialized.
func (a *App) loadDB(ctx context.Context) error {
	for _, dbConfig := range a.Config.Databases {
		if !dbConfig.Enable {
			continue
		}

		switch dbConfig.DbType {
		case "mysql":
			// Use retry logic because containerized services may start slowly.
			d, err := a.newMysqlDBWithRetry(ctx, dbConfig)
			if err != nil {
				return err
			}

			// Enable verbose SQL logs only in non-production debug mode.
			if a.Config.System.DebugMode && a.Config.System.Env != "prod" {
				d = d.Debug()
			}

			a.MysqlDB[dbConfig.DbName] = d
		case "mongo":
			// The generic databases[] profile only triggers mongo
			// initialization; connection details live in the dedicated
			// mongo config section below.
		}
	}

	if err := a.loadMongo(ctx); err != nil {
		return err
	}

	a.Logger.Info(ctx, "Databases loaded successfully")

	return nil
}

// loadMongo connects to the document store backing ResultsStore, when
// enabled.
//
// Parameters:
//   - ctx: trace-aware context used for initialization logs and the
//     connect timeout.
//
// Returns:
//   - error: returned when the connection or initial ping fails.
func (a *App) loadMongo(ctx context.Context) error {
	if !a.Config.Mongo.Enable {
		return nil
	}

	timeout := a.Config.Mongo.ConnectTimeout
	if timeout <= 0 {
		timeout = 10
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(a.Config.Mongo.URI))
	if err != nil {
		return fmt.Errorf("bootstrap: mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return fmt.Errorf("bootstrap: mongo ping: %w", err)
	}

	a.Mongo = client
	collection := client.Database(a.Config.Mongo.Database).Collection(a.Config.Mongo.Collection)
	a.ResultsStore = resultsstore.New(collection)

	a.Logger.Info(ctx, "Mongo loaded successfully")

	return nil
}

// newMysqlDBWithRetry creates a MySQL connection with configurable retry
// behavior.
//
// Parameters:
//   - ctx: trace-aware context for retry logs and cancellation.
//   - dbConfig: database configuration including DSN parts and retry policy.
//
// Returns:
//   - *gorm.DB: initialized GORM client.
//   - error: returned when all retry attempts fail or context is canceled.
//
// Behavior:
//   - Defaults to 3 retries with 3-second intervals when not configured.
//   - Stops early when context cancellation is received.
func (a *App) newMysqlDBWithRetry(ctx context.Context, dbConfig app.Databases) (*gorm.DB, error) {
	retryCount := dbConfig.DbConnectRetryCount
	if retryCount <= 0 {
		retryCount = 3
	}

	retryInterval := dbConfig.DbConnectRetryInterval
	if retryInterval <= 0 {
		retryInterval = 3
	}

	mysqlLogger := mysql.NewLog(a.Logger.CallerSkipMode(4))
	var (
		d   *gorm.DB
		err error
	)

	for attempt := 1; attempt <= retryCount; attempt++ {
		d, err = mysql.New(mysql.WithConfigs(
			mysql.Config{
				User:     dbConfig.DbUsername,
				Password: dbConfig.DbPassword,
				Host:     dbConfig.DbHost,
				DBName:   dbConfig.DbName,
			}),
			mysql.WithConnMaxLifetime(dbConfig.DbMaxLifetime*time.Hour),
			mysql.WithMaxIdleConn(dbConfig.DbMaxIdleConn),
			mysql.WithMaxOpenConn(dbConfig.DbMaxOpenConn),
			mysql.WithGormConfig(gorm.Config{Logger: mysqlLogger}),
		)
		if err == nil {
			return d, nil
		}

		if attempt == retryCount {
			break
		}

		waitTime := time.Duration(retryInterval) * time.Second
		a.Logger.Warn(
			ctx, "database connection failed, preparing retry",
			zap.String("dbName", dbConfig.DbName),
			zap.String("host", dbConfig.DbHost),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", retryCount),
			zap.Duration("retryAfter", waitTime),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitTime):
		}
	}

	return nil, err
}

// loadFeishu initializes Feishu integration when enabled.
//
// Parameters:
//   - ctx: trace-aware context used for initialization logs.
//
// Returns:
//   - error: returned when Feishu initialization fails.
func (a *App) loadFeishu(ctx context.Context) error {
	var err error

	if a.Config.Feishu.Enable {
		a.Feishu, err = feishu.New(
			feishu.WithGroupWebhook(a.Config.Feishu.GroupWebhook),
			feishu.WithAppID(a.Config.Feishu.AppID),
			feishu.WithAppSecret(a.Config.Feishu.AppSecret),
			feishu.WithEncryptKey(a.Config.Feishu.EncryptKey),
			feishu.WithRedis(a.Redis["crawlpipeline"]),
			feishu.WithLog(a.Logger.Zap),
		)

		if err == nil {
			a.Logger.Info(ctx, "Feishu loaded successfully")
		}
	}

	return err
}

// loadCrawlStack builds the Redis-backed CrawlLockManager, the DBWorker
// client wrapping ResultsStore, and the AMQP broker client.
//
// Parameters:
//   - ctx: trace-aware context used for initialization logs.
//
// Returns:
//   - error: always nil. A missing "lock" redis profile logs a warning and
//     skips the whole stage; the broker client is built here but not
//     connected.
func (a *App) loadCrawlStack(ctx context.Context) error {
	lockRedis, ok := a.Redis["lock"]
	if !ok {
		a.Logger.Warn(ctx, "no redis profile named \"lock\" configured, crawl lock manager disabled")
		return nil
	}
	a.LockManager = crawllock.New(lockstore.New(lockRedis, "LOCK_"))

	if a.ResultsStore != nil {
		a.DBClient = dbworker.New(a.ResultsStore, a.dbWorkerCapacity())
	}

	if a.Config.Broker.Enable {
		a.Broker = broker.New(broker.Config{
			URL:                a.Config.Broker.URL,
			ProjectQueue:       a.Config.Broker.ProjectQueue,
			DataGatheringQueue: a.Config.Broker.DataGatheringQueue,
			CompensationQueue:  a.Config.Broker.CompensationQueue,
			HeartbeatSeconds:   a.Config.Broker.HeartbeatSeconds,
			ReconnectDelay:     time.Duration(a.Config.Broker.ReconnectDelay) * time.Second,
		}, a.Logger)
	}

	a.Logger.Info(ctx, "Crawl stack loaded successfully")

	return nil
}

// dbWorkerCapacity resolves the configured DBWorker instance count to size
// the single-outstanding-request semaphore, defaulting to 1.
func (a *App) dbWorkerCapacity() int {
	for _, wc := range a.Config.Supervisor.WorkerClasses {
		if wc.Name == "DBWorker" {
			return wc.Count
		}
	}
	return 1
}

// loadSupervisor registers every configured worker class on a new
// Supervisor and wires BrokerGateway's publish/ingest sides and
// CrawlWorker's default HTTP capability into it. Start() later spawns
// the initial instances and runs the routing loop.
//
// Parameters:
//   - ctx: trace-aware context used for initialization logs.
//
// Returns:
//   - error: returned when a configured worker class has no matching
//     factory.
func (a *App) loadSupervisor(ctx context.Context) error {
	if len(a.Config.Supervisor.WorkerClasses) == 0 {
		a.Logger.Warn(ctx, "no supervisor worker classes configured")
		return nil
	}

	backoff := time.Duration(a.Config.Supervisor.RerouteBackoff) * time.Second
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	staleAfter := time.Duration(a.Config.Supervisor.HealthStaleSeconds) * time.Second
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}

	a.Supervisor = supervisor.New(a.Logger, backoff, staleAfter)

	capability := crawlworker.NewHTTPCapability(
		a.Config.Crawl.BaseURL,
		time.Duration(a.Config.Crawl.TimeoutSeconds)*time.Second,
		time.Duration(a.Config.Crawl.BreakerTimeout)*time.Second,
		a.Config.Crawl.BreakerMaxRequests,
	)

	brokerCfg := brokergateway.Config{
		ProjectQueue:       a.Config.Broker.ProjectQueue,
		DataGatheringQueue: a.Config.Broker.DataGatheringQueue,
		CompensationQueue:  a.Config.Broker.CompensationQueue,
	}

	for _, wc := range a.Config.Supervisor.WorkerClasses {
		if wc.Name == "DBWorker" {
			// DBWorker is collapsed into a direct dbworker.Client call
			// from CrawlWorker (see app/crawlworker's package doc); its
			// entry here only sizes the single-outstanding-request
			// semaphore via dbWorkerCapacity, it is never spawned as a
			// supervised goroutine of its own.
			continue
		}

		factory, err := a.workerFactory(wc.Name, capability, brokerCfg)
		if err != nil {
			return err
		}

		a.Supervisor.RegisterClass(supervisor.ClassConfig{
			Name:    wc.Name,
			Count:   wc.Count,
			Factory: factory,
			Config:  wc.Config,
		})
	}

	a.Logger.Info(ctx, "Supervisor loaded successfully")

	return nil
}

// workerFactory resolves the WorkerFunc backing a configured worker class
// name to its concrete implementation.
func (a *App) workerFactory(name string, capability crawlworker.Capability, brokerCfg brokergateway.Config) (supervisor.WorkerFunc, error) {
	switch name {
	case "CrawlWorker":
		return crawlworker.New(a.LockManager, a.DBClient, capability, crawlworker.Config{
			LockTTLSeconds: a.Config.Supervisor.LockTTLSeconds,
			TargetCount:    a.Config.Crawl.TargetCount,
		}, a.Logger), nil
	case "BrokerGateway":
		return brokergateway.NewPublish(a.Broker, brokerCfg, a.Logger), nil
	case "BrokerGatewayIngest":
		return brokergateway.NewIngest(a.Broker, brokerCfg, a.Logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: no worker factory registered for class %q", name)
	}
}
