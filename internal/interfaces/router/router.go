package router

import (
	"context"
	"time"

	authsvc "certify-backend/internal/application/auth"
	certsvc "certify-backend/internal/application/certificates"
	"certify-backend/internal/application/events"
	healthsvc "certify-backend/internal/application/health"
	"certify-backend/internal/application/identifier"
	"certify-backend/internal/application/issuance"
	reqsvc "certify-backend/internal/application/requests"
	studentsvc "certify-backend/internal/application/students"
	uploadsvc "certify-backend/internal/application/uploads"
	"certify-backend/internal/application/verification"
	"certify-backend/internal/config"
	"certify-backend/internal/infrastructure/database"
	"certify-backend/internal/infrastructure/store"
	authhandler "certify-backend/internal/interfaces/handlers/auth"
	certhandler "certify-backend/internal/interfaces/handlers/certificates"
	healthhandler "certify-backend/internal/interfaces/handlers/health"
	reqhandler "certify-backend/internal/interfaces/handlers/requests"
	studenthandler "certify-backend/internal/interfaces/handlers/students"
	uploadhandler "certify-backend/internal/interfaces/handlers/uploads"
	"certify-backend/internal/middleware"
	"certify-backend/internal/pkg/constants"
	"certify-backend/internal/platform/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the connections the app is built on. Tests pass in-memory ones.
type Deps struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Events  events.Publisher
	Storage uploadsvc.StorageClient
	Metrics *metrics.Metrics
}

// App is the assembled service.
type App struct {
	Fiber   *fiber.App
	DB      *gorm.DB
	Redis   *redis.Client
	Metrics *metrics.Metrics
	Sweeper *issuance.Sweeper
}

// CreateApp opens the database, Redis and broker from cfg and builds the app.
func CreateApp(cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := database.AutoMigrate(db); err != nil {
			return nil, err
		}
	}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb = redis.NewClient(opt)
	}
	return Build(cfg, Deps{
		DB:      db,
		Redis:   rdb,
		Events:  events.NewPublisher(cfg.AMQPURL),
		Storage: &uploadsvc.HTTPClient{BaseURL: cfg.StorageURL, SecretKey: cfg.StorageSecretKey},
		Metrics: metrics.New(),
	})
}

// Build wires services, middleware and routes on top of deps.
func Build(cfg *config.Config, deps Deps) (*App, error) {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	rdb := deps.Redis
	st := store.New(deps.DB)

	ids, err := identifier.New(cfg.CertIDPrefix)
	if err != nil {
		return nil, err
	}
	issuer := issuance.NewService(st, ids, cfg.IssuerName)
	issuer.Events = deps.Events
	issuer.Metrics = deps.Metrics

	requests := reqsvc.NewService(st, issuer)
	requests.Events = deps.Events
	requests.Metrics = deps.Metrics

	verifier := verification.NewService(st)
	verifier.Metrics = deps.Metrics

	certificates := certsvc.NewService(st, certsvc.HTMLRenderer{BaseURL: cfg.PublicBaseURL})
	certificates.Events = deps.Events
	certificates.Metrics = deps.Metrics

	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler(rdb),
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())
	if rdb != nil {
		app.Use(middleware.SessionWithClient(rdb, cfg.SessionSecret))
	}
	app.Use(middleware.HealthMarker(rdb))
	tokens := authsvc.NewTokens(cfg.JWTSecret, cfg.JWTTTLMinutes)
	app.Use(middleware.BearerAuth(tokens))

	checks := healthsvc.Checks{
		Redis:    rdb,
		Database: healthsvc.PingFunc(func() error { return st.Ping(context.Background()) }),
	}
	if p, ok := deps.Events.(*events.AMQPPublisher); ok {
		checks.Broker = p
	}
	hh := &healthhandler.Handlers{Checks: checks, HealthAdminKey: cfg.HealthAdminKey}
	app.Get("/", hh.Dashboard)
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})))

	sessionCfg := middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.IsProduction(),
	}
	ah := &authhandler.Handlers{
		UserFinder: &authsvc.GormUserFinder{DB: deps.DB},
		Tokens:     tokens,
		Rdb:        rdb,
		Config:     sessionCfg,
	}
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/login", ah.Login)
	authGroup.Get("/me", ah.Me)
	authGroup.Delete("/logout", ah.Logout)

	limit := middleware.RateLimit(rdb, middleware.RateLimitConfig{
		Prefix:         "ratelimit:verify",
		Capacity:       cfg.VerifyRateCapacity,
		RefillTokens:   cfg.VerifyRateRefill,
		RefillInterval: cfg.VerifyRateInterval,
		Metrics:        deps.Metrics,
	})
	ch := &certhandler.Handlers{Service: certificates, Verification: verifier}
	app.Get("/api/v1/certificates/verify/:id", limit, ch.Verify)
	app.Get("/api/v1/certificates/:id/download", limit, ch.Download)
	cg := app.Group("/api/v1/certificates", middleware.RequireAuth())
	cg.Get("/", ch.List)
	cg.Get("/:id", middleware.AuthorizePermission(constants.ViewCertificate), ch.Get)
	cg.Patch("/:id/revoke", middleware.AuthorizePermission(constants.RevokeCertificate), ch.Revoke)

	rh := &reqhandler.Handlers{Service: requests}
	rg := app.Group("/api/v1/requests", middleware.RequireAuth())
	rg.Post("/", middleware.AuthorizePermission(constants.SubmitRequest), rh.Submit)
	rg.Get("/", rh.List)
	rg.Get("/:id", middleware.AuthorizePermission(constants.ViewRequest), rh.Get)
	rg.Get("/:id/history", middleware.AuthorizePermission(constants.ViewRequest), rh.History)
	rg.Get("/:id/certificate", middleware.AuthorizePermission(constants.ViewCertificate), rh.Certificate)
	rg.Post("/:id/decision", middleware.AuthorizePermission(constants.DecideRequest), rh.Decide)

	sh := &studenthandler.Handlers{Service: &studentsvc.Service{DB: deps.DB}}
	sg := app.Group("/api/v1/students", middleware.RequireAuth())
	sg.Get("/", middleware.AuthorizePermission(constants.ListStudents), sh.List)
	sg.Post("/", middleware.AuthorizePermission(constants.CreateStudent), sh.Create)

	if deps.Storage != nil {
		uph := &uploadhandler.Handlers{Service: &uploadsvc.Service{
			Client: deps.Storage,
			Bucket: cfg.ProofBucket,
			Now:    time.Now,
		}}
		upg := app.Group("/api/v1/uploads", middleware.RequireAuth())
		upg.Post("/proof", middleware.AuthorizePermission(constants.UploadProof), uph.UploadProof)
	}

	var sweeper *issuance.Sweeper
	if cfg.IssuanceSweepSpec != "" {
		sweeper = issuance.NewSweeper(issuer, st)
		sweeper.Metrics = deps.Metrics
	}

	return &App{
		Fiber:   app,
		DB:      deps.DB,
		Redis:   rdb,
		Metrics: deps.Metrics,
		Sweeper: sweeper,
	}, nil
}
