package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"

	api "github.com/mind-engage/capa-engine/internal/api/http"
	auth "github.com/mind-engage/capa-engine/internal/auth/middleware"
	"github.com/mind-engage/capa-engine/internal/config"
	"github.com/mind-engage/capa-engine/internal/contentstore"
	"github.com/mind-engage/capa-engine/internal/db"
	"github.com/mind-engage/capa-engine/internal/policy"
	"github.com/mind-engage/capa-engine/internal/problem"
	"github.com/mind-engage/capa-engine/internal/track"
	"github.com/mind-engage/capa-engine/internal/xqueue"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := problem.NewSQLStore(dbh)
	eventLog := track.NewSQLEventLog(dbh)

	// --- Content store (transcripts and other course assets) ---
	var blobs contentstore.Store
	switch cfg.BlobDriver {
	case "s3":
		blobs, err = contentstore.NewS3Store(ctx, cfg.S3Region, cfg.S3Bucket)
	default:
		blobs, err = contentstore.NewFSStore(cfg.BlobBasePath)
	}
	if err != nil {
		log.Fatalf("content store: %v", err)
	}

	// --- Problem service ---
	opts := []problem.ServiceOption{
		problem.WithDefaultShowResetButton(cfg.DefaultShowResetButton),
		problem.WithDebug(cfg.Debug),
	}
	if cfg.XQueueURL != "" {
		opts = append(opts, problem.WithQueue(
			xqueue.NewClient(cfg.XQueueURL, cfg.XQueueWaitTime), cfg.CallbackBaseURL))
	}
	if cfg.CoursePolicyPath != "" {
		pol, err := policy.Load(cfg.CoursePolicyPath)
		if err != nil {
			log.Fatalf("course policy: %v", err)
		}
		opts = append(opts, problem.WithCoursePolicy(pol))
	}
	svc := problem.NewService(store, eventLog, eventLog, opts...)

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.JWTSecret)

	// --- Router ---
	logger := httplog.NewLogger("capad", httplog.Options{
		LogLevel: slog.LevelInfo,
		Concise:  true,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, cfg.AdminUser, cfg.AdminPassHash))

	// Grader callbacks are unauthenticated; the queuekey is the check.
	r.Route("/api/xqueue", func(xr chi.Router) {
		api.MountXQueue(xr, svc)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Route("/api/problems", func(ar chi.Router) {
			api.MountProblems(ar, svc)
		})
		pr.Route("/api/transcripts", func(tr chi.Router) {
			api.MountTranscripts(tr, blobs)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (db=%s, blobs=%s)", cfg.HTTPAddr, cfg.DBDriver, cfg.BlobDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
