// Package pipeline assembles the engine: services, routers, the job
// queue and the task-change notifier, wired over one gorm handle and
// one pgx pool.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/config"
	"github.com/OpenPipe/pipeline/internal/filestore"
	"github.com/OpenPipe/pipeline/internal/notify"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
	"github.com/OpenPipe/pipeline/internal/pipeline/router"
	"github.com/OpenPipe/pipeline/internal/pipeline/service"
	"github.com/OpenPipe/pipeline/internal/queue"
	"github.com/OpenPipe/pipeline/internal/task"
)

// Manager coordinates the engine's services and routers and exposes
// the pieces the worker binary shares with the server binary.
type Manager struct {
	cfg      *config.Config
	db       *gorm.DB
	pool     *pgxpool.Pool
	queue    *queue.Queue
	registry *task.Registry
	files    *filestore.Service
	notifier *notify.Publisher

	authService  *auth.Service
	tokenParser  *auth.SignedTokenParser
	taskService  *service.TaskService
	runService   *service.RunService
	tableService *service.SourceTableService

	runRouter    *router.RunRouter
	taskRouter   *router.TaskRouter
	tableRouter  *router.SourceTableRouter
	userRouter   *router.UserRouter
	uploadRouter *router.UploadRouter
}

// NewManager wires the engine. The task registry is validated against
// the seeded catalog separately, at boot.
func NewManager(ctx context.Context, cfg *config.Config, db *gorm.DB, pool *pgxpool.Pool) (*Manager, error) {
	driver, err := filestore.NewStorageFromConfig(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	files := filestore.NewService(driver)

	q := queue.New(pool, cfg.Notify.JobChannel, cfg.Worker.Lease())
	registry := task.NewRegistry(&task.Env{
		DB:         db,
		Pool:       pool,
		Files:      files,
		LoadSchema: cfg.Pipeline.LoadSchema,
	})

	m := &Manager{
		cfg:      cfg,
		db:       db,
		pool:     pool,
		queue:    q,
		registry: registry,
		files:    files,
		notifier: notify.NewPublisher(cfg.Notify.TaskChannel, &notify.PGSource{Pool: pool}),
	}

	m.authService = auth.NewService(db)
	m.tokenParser = auth.NewSignedTokenParser(cfg.Auth.SessionSecret)
	m.taskService = service.NewTaskService(db, q, registry)
	m.runService = service.NewRunService(db)
	m.tableService = service.NewSourceTableService(db)

	m.runRouter = router.NewRunRouter(m.runService)
	m.taskRouter = router.NewTaskRouter(m.taskService)
	m.tableRouter = router.NewSourceTableRouter(m.tableService)
	m.userRouter = router.NewUserRouter(m.authService, m.tokenParser)
	m.uploadRouter = router.NewUploadRouter(files, m.runService)

	return m, nil
}

// Queue returns the shared job queue.
func (m *Manager) Queue() *queue.Queue {
	return m.queue
}

// Registry returns the task implementation catalog.
func (m *Manager) Registry() *task.Registry {
	return m.registry
}

// TaskService returns the task execution engine.
func (m *Manager) TaskService() *service.TaskService {
	return m.taskService
}

// Engine builds the HTTP engine with all routes mounted.
func (m *Manager) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     m.cfg.CORS.AllowedOrigins,
		AllowMethods:     m.cfg.CORS.AllowedMethods,
		AllowHeaders:     m.cfg.CORS.AllowedHeaders,
		AllowCredentials: m.cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(m.cfg.CORS.MaxAge) * time.Second,
	}))
	engine.Use(auth.Middleware(m.authService, m.tokenParser))

	open := engine.Group("/api")
	open.GET("/health", m.handleHealth)

	api := engine.Group("/api")
	api.Use(auth.RequireAuth())
	m.runRouter.Register(api)
	m.taskRouter.Register(api)
	m.tableRouter.Register(api)
	m.uploadRouter.Register(api)

	admin := engine.Group("/api")
	admin.Use(auth.RequireAuth(), auth.RequireRole(model.AdminRole))
	m.userRouter.Register(open, admin)

	sockets := engine.Group("/sockets")
	sockets.GET("/pipeline-run-tasks/:runId", notify.SessionHandler(m.notifier, "runId"))

	return engine
}

// handleHealth answers liveness plus a database round trip.
func (m *Manager) handleHealth(c *gin.Context) {
	if err := m.pool.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "ok"})
}
