// Микросервис входа: одноразовые коды по email, HMAC-сессии устройств.
// API не ходит в его хранилища напрямую — только через POST /internal/validate.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifesite/internal/config"
	"github.com/lifesite/internal/email"
	"github.com/lifesite/internal/handler"
	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/middleware"
	"github.com/lifesite/internal/repository"
	"github.com/lifesite/internal/service"
	"github.com/lifesite/internal/startup"
	"github.com/lifesite/internal/storage"
	"github.com/lifesite/internal/storage/devstore"
)

func main() {
	logger.SetPrefix("auth")
	dev := flag.Bool("dev", false, "use in-memory store instead of Redis (no Redis required)")
	flag.Parse()

	logger.Info("starting auth service")
	cfg := config.Load()
	if cfg.SMTP.Username == "" || cfg.SMTP.Password == "" {
		logger.Info("SMTP не настроен (SMTP_USERNAME/SMTP_PASSWORD в .env). Письма с кодом отправляться не будут.")
	} else {
		logger.Infof("SMTP: %s (host %s:%d)", cfg.SMTP.Username, cfg.SMTP.Host, cfg.SMTP.Port)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "auth: ")
	defer pool.Close()

	sessionRepo := repository.NewSessionRepository(pool)
	store := openStore(*dev, cfg, sessionRepo)
	defer store.Close()

	userRepo := repository.NewUserRepository(pool)
	mailer := email.NewSender(&cfg.SMTP)
	signInSvc := service.NewSignInService(userRepo, sessionRepo, store, mailer, cfg.SignIn)

	addr := os.Getenv("SERVER_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(cfg, signInSvc, sessionRepo, store),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	serveUntilSignal(srv, addr)
}

// openStore выбирает хранилище кодов и секретов: Redis в обычном режиме,
// в -dev память + session_secret в БД (сессии переживают перезапуск).
func openStore(dev bool, cfg *config.Config, sessionRepo *repository.SessionRepository) storage.SessionOTPStore {
	if dev {
		logger.Info("auth -dev: session_secret хранится в БД, коды в памяти")
		return devstore.New(sessionRepo, cfg.SignIn)
	}
	return startup.ConnectRedisWithRetry(cfg.Redis.URL, cfg.SignIn, 60*time.Second, "auth: ")
}

func newRouter(cfg *config.Config, signInSvc *service.SignInService, sessionRepo *repository.SessionRepository, store storage.SessionOTPStore) http.Handler {
	authH := handler.NewAuthHandler(signInSvc)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/api/auth/request-code", authH.RequestCode)
	r.Post("/api/auth/verify-code", authH.VerifyCode)
	r.With(middleware.InternalOnly).Post("/internal/validate", handler.ValidateSession(signInSvc))

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessionRepo, store))
		r.Get("/api/auth/sessions", authH.GetSessions)
		r.Delete("/api/auth/session", authH.LogoutSession)
		r.Delete("/api/auth/sessions", authH.LogoutAllSessions)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

func serveUntilSignal(srv *http.Server, addr string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Infof("auth server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("auth server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down auth server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("auth server shutdown: %v", err)
	}
	<-done
	logger.Info("auth server stopped")
}
