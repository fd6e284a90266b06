package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"github.com/techpack/techpack-api/internal/config"
	"github.com/techpack/techpack-api/internal/domain/analysis"
	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/domain/payment"
	"github.com/techpack/techpack-api/internal/domain/progress"
	"github.com/techpack/techpack-api/internal/domain/techpack"
	"github.com/techpack/techpack-api/internal/middleware"
	"github.com/techpack/techpack-api/internal/pkg/database"
	"github.com/techpack/techpack-api/internal/pkg/dispatch"
	"github.com/techpack/techpack-api/internal/pkg/gemini"
	"github.com/techpack/techpack-api/internal/pkg/imagegen"
	"github.com/techpack/techpack-api/internal/pkg/jwt"
	"github.com/techpack/techpack-api/internal/pkg/lock"
	"github.com/techpack/techpack-api/internal/pkg/logger"
	"github.com/techpack/techpack-api/internal/pkg/metrics"
	"github.com/techpack/techpack-api/internal/pkg/paypal"
	"github.com/techpack/techpack-api/internal/pkg/polar"
	"github.com/techpack/techpack-api/internal/pkg/response"
	"github.com/techpack/techpack-api/internal/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})
	response.SetDevelopment(cfg.IsDevelopment())

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting TechPack API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	locker := lock.New(database.NewRedsync(rdb))
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	ctx := context.Background()

	store, err := storage.New(ctx, storage.Config{
		Driver:            cfg.StorageDriver,
		R2AccountID:       cfg.R2AccountID,
		R2AccessKeyID:     cfg.R2AccessKeyID,
		R2AccessKeySecret: cfg.R2AccessKeySecret,
		R2BucketName:      cfg.R2BucketName,
		R2PublicURL:       cfg.R2PublicURL,
		S3Endpoint:        cfg.S3Endpoint,
		S3Region:          cfg.S3Region,
		S3Bucket:          cfg.S3Bucket,
		S3AccessKey:       cfg.S3AccessKey,
		S3SecretKey:       cfg.S3SecretKey,
		LocalPath:         cfg.LocalStoragePath,
		LocalURL:          cfg.LocalStorageURL,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("Failed to create storage")
	}

	// ---------- Vendor clients ----------
	vision, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	defer vision.Close()

	images := imagegen.NewClient(cfg.ImageAPIURL, cfg.ImageAPIKey, cfg.ImageModel, time.Duration(cfg.ImageTimeoutSeconds)*time.Second)
	paypalClient := paypal.NewClient(paypal.Config{
		BaseURL:      cfg.PayPalBaseURL,
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		Timeout:      30 * time.Second,
	})
	polarClient := polar.NewClient(polar.Config{
		BaseURL:     cfg.PolarBaseURL,
		AccessToken: cfg.PolarAccessToken,
		Timeout:     30 * time.Second,
	})

	// ---------- Background work ----------
	dispatcher := dispatch.New(dispatch.Options{Recorder: dispatch.NewPostgresRecorder(db)})
	hub := progress.NewHub(rdb)
	go hub.Run()

	// ---------- Repositories ----------
	creditRepo := credit.NewRepository(db)
	techpackRepo := techpack.NewRepository(db)
	analysisRepo := analysis.NewRepository(db)
	paymentRepo := payment.NewRepository(db)

	// ---------- Services ----------
	ledger := credit.NewLedger(creditRepo, locker, pendingQueue(rdb))
	techpackService := techpack.NewService(techpackRepo, ledger, vision, images, store, hub)
	analysisService := analysis.NewService(analysisRepo, vision, images, techpackRepo, dispatcher, analysis.Options{
		Model:      cfg.GeminiModel,
		MaxRetries: cfg.AnalysisMaxRetries,
		RetryDelay: cfg.AnalysisRetryDelay,
	})
	paymentService := payment.NewService(paymentRepo, ledger, paypalClient, polarClient, map[string]string{
		"pro":      cfg.PolarProProductID,
		"business": cfg.PolarBusinessProductID,
	})

	// ---------- Handlers ----------
	creditHandler := credit.NewHandler(ledger)
	techpackHandler := techpack.NewHandler(techpackService)
	analysisHandler := analysis.NewHandler(analysisService)
	paymentHandler := payment.NewHandler(paymentService)
	progressHandler := progress.NewHandler(hub, jwtService, techpackRepo, cfg.AllowedOrigins)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint authenticates with ?token=
	r.Get("/ws/progress", progressHandler.Stream)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", metrics.Handler())

	if cfg.StorageDriver == "local" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.LocalStoragePath))))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Compress(5))
		mountAPIRoutes(r, apiHandlers{
			credit:   creditHandler,
			techpack: techpackHandler,
			analysis: analysisHandler,
			payment:  paymentHandler,
		}, authMiddleware)
	})

	// ---------- Server ----------
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // complete generation is synchronous
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	hub.Stop()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Background tasks cancelled before completion")
	}

	log.Info().Msg("Server exited properly")
}

// pendingQueue returns nil without Redis; the reconciler then scans
// Postgres only.
func pendingQueue(rdb *redis.Client) credit.PendingQueue {
	if rdb == nil {
		return nil
	}
	return credit.NewRedisPendingQueue(rdb)
}
