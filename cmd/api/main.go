package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/lexigrade/lexigrade-api/api/swagger"
	"github.com/lexigrade/lexigrade-api/internal/classsync"
	"github.com/lexigrade/lexigrade-api/internal/handler"
	"github.com/lexigrade/lexigrade-api/internal/middleware"
	"github.com/lexigrade/lexigrade-api/internal/models"
	"github.com/lexigrade/lexigrade-api/internal/realtime"
	"github.com/lexigrade/lexigrade-api/internal/repository"
	"github.com/lexigrade/lexigrade-api/internal/service"
	"github.com/lexigrade/lexigrade-api/pkg/cache"
	"github.com/lexigrade/lexigrade-api/pkg/config"
	"github.com/lexigrade/lexigrade-api/pkg/database"
	"github.com/lexigrade/lexigrade-api/pkg/jobs"
	"github.com/lexigrade/lexigrade-api/pkg/logger"
	"github.com/lexigrade/lexigrade-api/pkg/mail"
	corsmiddleware "github.com/lexigrade/lexigrade-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lexigrade/lexigrade-api/pkg/middleware/requestid"
	"github.com/lexigrade/lexigrade-api/pkg/storage"
	"github.com/lexigrade/lexigrade-api/pkg/textextract"
)

// @title LexiGrade API
// @version 1.0.0
// @description Language academy essay grading and class realtime API
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, realtime feed and cache disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close() //nolint:errcheck
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	classRepo := repository.NewClassRepository(db)
	rosterRepo := repository.NewRosterRepository(db)
	forumRepo := repository.NewForumRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	correctionRepo := repository.NewCorrectionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	reminderRepo := repository.NewReminderRepository(db)
	billingRepo := repository.NewBillingRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Change feed and realtime plumbing.
	var feed *classsync.RedisFeed
	if redisClient != nil {
		feed = classsync.NewRedisFeed(redisClient, cfg.Realtime.ChannelPrefix, cfg.Realtime.SendBuffer, logr)
	}
	gateway := realtime.NewRepoGateway(forumRepo, rosterRepo)

	var publisher classsync.Publisher
	var subscriber classsync.Subscriber
	if feed != nil {
		publisher = feed
		subscriber = feed
	}

	metricsService := service.NewMetricsService(db.DB)
	cacheService := service.NewCacheService(cacheRepo, metricsService, 0, logr, redisClient != nil)

	validate := validator.New()

	authService := service.NewAuthService(userRepo, tokenRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "lexigrade-api",
	})
	billingService := service.NewBillingService(billingRepo, userRepo, service.BillingServiceConfig{
		Enforce:       cfg.Billing.Enforce,
		WebhookSecret: cfg.Billing.WebhookSecret,
	}, logr)
	classService := service.NewClassService(classRepo, rosterRepo, billingService, publisher, logr)
	forumService := service.NewForumService(forumRepo, classRepo, classService, gateway, publisher, cacheService, logr)
	assignmentService := service.NewAssignmentService(assignmentRepo, classRepo, rosterRepo, notificationRepo, reminderRepo, billingService, validate, logr)
	notificationService := service.NewNotificationService(notificationRepo, logr)

	var mailer mail.Mailer
	if cfg.Email.Enabled && cfg.Email.SendGridKey != "" {
		mailer, err = mail.NewSendGridMailer(cfg.Email.SendGridKey, cfg.Email.FromName, cfg.Email.FromAddress)
		if err != nil {
			logr.Fatal("failed to init mailer", zap.Error(err))
		}
	} else {
		mailer = mail.NewLogMailer(logr)
	}
	reminderService := service.NewReminderService(reminderRepo, assignmentRepo, classRepo, notificationRepo, mailer, logr)

	uploadStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Fatal("failed to init upload storage", zap.Error(err))
	}
	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to init export storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportService := service.NewExportService(classRepo, rosterRepo, assignmentRepo, exportStore, signer, logr)

	correctionService := service.NewCorrectionService(correctionRepo, submissionRepo, assignmentRepo, classRepo, notificationRepo, service.CorrectionConfig{
		WebhookURL: cfg.Correction.WebhookURL,
		Timeout:    cfg.Correction.Timeout,
	}, logr)
	correctionQueue := jobs.NewQueue("corrections", correctionService.HandleJob, jobs.QueueConfig{
		Workers:     cfg.Correction.WorkerConcurrency,
		MaxRetries:  cfg.Correction.WorkerRetries,
		Logger:      logr,
		OnExhausted: correctionService.MarkFailed,
	})

	extractor := textextract.NewPlainTextExtractor()
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, correctionRepo, classRepo, extractor, uploadStore, correctionQueue, cfg.Uploads.MaxFileSizeBytes, logr)

	// Background sweeps flip overdue targets to LATE and deliver due
	// reminders. Both are at-most-once; re-running a pass is harmless.
	withSweepMetrics := func(s service.Sweep) service.Sweep {
		run := s.Run
		name := s.Name
		s.Run = func(ctx context.Context) (int, error) {
			n, err := run(ctx)
			metricsService.RecordSweep(name, n)
			return n, err
		}
		return s
	}
	sweeper := service.NewSweeper(cfg.Sweeps.Interval, logr,
		withSweepMetrics(service.NewLateSweep(assignmentRepo, notificationRepo, cfg.Sweeps.BatchSize, logr)),
		withSweepMetrics(service.NewReminderSweep(reminderService, cfg.Sweeps.BatchSize)),
		withSweepMetrics(service.NewExportCleanupSweep(exportStore, cfg.Exports.RetentionTTL)),
	)

	// Shared sessions per class room; nil subscriber degrades to
	// snapshot-only views.
	manager := classsync.NewManager(gateway, subscriber, logr)
	hub := realtime.NewHub(manager, logr)

	router := buildRouter(cfg, logr, routerDeps{
		auth:          handler.NewAuthHandler(authService),
		classes:       handler.NewClassHandler(classService),
		forum:         handler.NewForumHandler(forumService),
		assignments:   handler.NewAssignmentHandler(assignmentService),
		submissions:   handler.NewSubmissionHandler(submissionService, correctionService),
		notifications: handler.NewNotificationHandler(notificationService),
		reminders:     handler.NewReminderHandler(reminderService),
		billing:       handler.NewBillingHandler(billingService),
		exports:       handler.NewExportHandler(exportService),
		metrics:       handler.NewMetricsHandler(metricsService),
		realtime:      handler.NewRealtimeHandler(hub, authService, classService, metricsService, logr),
		authService:   authService,
		metricsSvc:    metricsService,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	correctionQueue.Start(ctx)
	if cfg.Sweeps.Enabled {
		sweeper.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}

	hub.Shutdown()
	if cfg.Sweeps.Enabled {
		sweeper.Stop()
	}
	correctionQueue.Stop()
	logr.Info("bye")
}

type routerDeps struct {
	auth          *handler.AuthHandler
	classes       *handler.ClassHandler
	forum         *handler.ForumHandler
	assignments   *handler.AssignmentHandler
	submissions   *handler.SubmissionHandler
	notifications *handler.NotificationHandler
	reminders     *handler.ReminderHandler
	billing       *handler.BillingHandler
	exports       *handler.ExportHandler
	metrics       *handler.MetricsHandler
	realtime      *handler.RealtimeHandler
	authService   *service.AuthService
	metricsSvc    *service.MetricsService
}

func buildRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metricsSvc))

	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Health)
	r.GET("/metrics", deps.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/register", deps.auth.Register)
	api.POST("/auth/login", deps.auth.Login)
	api.POST("/auth/refresh", deps.auth.Refresh)
	api.POST("/billing/webhook", deps.billing.Webhook)
	api.GET("/exports/download", deps.exports.Download)
	if cfg.Realtime.Enabled {
		api.GET("/ws", deps.realtime.Serve)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(deps.authService))

	authed.POST("/auth/logout", deps.auth.Logout)
	authed.POST("/auth/change-password", deps.auth.ChangePassword)
	authed.GET("/auth/me", deps.auth.Me)
	authed.PUT("/auth/profile", deps.auth.UpdateProfile)

	teacher := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)
	student := middleware.RequireRoles(models.RoleStudent)

	authed.GET("/classes", deps.classes.List)
	authed.POST("/classes", teacher, deps.classes.Create)
	authed.POST("/classes/join", student, deps.classes.Join)
	authed.GET("/classes/:id", deps.classes.Get)
	authed.DELETE("/classes/:id", teacher, deps.classes.Delete)
	authed.GET("/classes/:id/roster", deps.classes.Roster)
	authed.DELETE("/classes/:id/roster/:studentId", teacher, deps.classes.RemoveStudent)
	authed.POST("/classes/:id/leave", student, deps.classes.Leave)
	authed.GET("/classes/:id/export", teacher, deps.exports.Roster)

	authed.GET("/classes/:id/forum", deps.forum.Feed)
	authed.POST("/classes/:id/forum/posts", deps.forum.CreatePost)
	authed.POST("/forum/posts/:postId/replies", deps.forum.CreateReply)
	authed.DELETE("/forum/posts/:postId", deps.forum.DeletePost)
	authed.DELETE("/forum/replies/:replyId", deps.forum.DeleteReply)

	authed.POST("/assignments", teacher, deps.assignments.Publish)
	authed.GET("/assignments", deps.assignments.List)
	authed.GET("/assignments/:id", deps.assignments.Get)
	authed.GET("/assignments/:id/targets", teacher, deps.assignments.Targets)
	authed.GET("/assignments/:id/reminders", teacher, deps.assignments.Reminders)
	authed.GET("/assignments/:id/export", teacher, deps.exports.AssignmentResults)
	authed.POST("/assignments/:id/submissions", student, deps.submissions.Submit)
	authed.GET("/assignments/:id/submissions", deps.submissions.ListByAssignment)
	authed.GET("/assignments/:id/submissions/mine", student, deps.submissions.Mine)

	authed.GET("/submissions/:id", deps.submissions.Detail)
	authed.POST("/submissions/:id/review", teacher, deps.submissions.Review)

	authed.GET("/notifications", deps.notifications.List)
	authed.GET("/notifications/unread-count", deps.notifications.UnreadCount)
	authed.POST("/notifications/:id/read", deps.notifications.MarkRead)
	authed.POST("/notifications/read-all", deps.notifications.MarkAllRead)

	authed.POST("/reminders", teacher, deps.reminders.Schedule)

	authed.GET("/billing/subscription", deps.billing.Subscription)

	authed.GET("/admin/metrics", middleware.RequireRoles(models.RoleAdmin), deps.metrics.Snapshot)

	return r
}
