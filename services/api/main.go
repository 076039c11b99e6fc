// API сайта: лента, личные треды, WebSocket-подписки, конфигурация сайтов.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifesite/internal/config"
	"github.com/lifesite/internal/fileserver"
	"github.com/lifesite/internal/handler"
	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/middleware"
	"github.com/lifesite/internal/push"
	"github.com/lifesite/internal/repository"
	"github.com/lifesite/internal/service"
	"github.com/lifesite/internal/startup"
	"github.com/lifesite/internal/ws"
	"github.com/lifesite/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	sites, err := config.LoadSites(cfg.SitesPath)
	if err != nil {
		logger.Errorf("load sites config: %v", err)
		os.Exit(1)
	}

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	// Онлайн-статусы не переживают рестарт процесса: без этого сброса
	// пользователи, висевшие в WS на момент падения, остались бы "online".
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE users SET is_online = false"); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	userRepo := repository.NewUserRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	threadRepo := repository.NewThreadRepository(pool)

	var files service.AttachmentStore
	localFiles := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize)
	if cfg.FileServiceURL != "" {
		files = fileserver.NewClient(cfg.FileServiceURL)
	} else {
		files = localFiles
	}
	pushClient := push.NewClient(cfg.PushServiceURL)

	hub := ws.NewHub(userRepo, cfg.MaxWSConnections)
	threadSvc := service.NewThreadService(threadRepo, cfg.AdminEmail)
	chatSvc := service.NewChatService(msgRepo, threadSvc, userRepo, files, hub, pushClient)
	hub.SetProvider(chatSvc)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	feedH := handler.NewFeedHandler(msgRepo, chatSvc, userRepo, cfg.AdminEmail, cfg.MaxUploadSize)
	threadH := handler.NewThreadHandler(threadSvc, chatSvc, userRepo, cfg.AdminEmail, cfg.MaxUploadSize)
	fileH := handler.NewFileHandler(cfg, localFiles)
	userH := handler.NewUserHandler(userRepo, cfg.AdminEmail)
	wsH := handler.NewWSHandler(hub, userRepo, cfg.AdminEmail, cfg.CORSAllowedOrigins)
	configH := handler.NewConfigHandler(cfg, sites)
	pushH := handler.NewPushHandler(pushClient)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/site", configH.GetSiteConfig)
	r.Get("/api/config/cache", configH.GetCacheConfig)
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/files/{filename}", fileH.Serve)

	if cfg.AuthServiceURL != "" {
		authProxy := authProxyHandler(cfg.AuthServiceURL)
		r.Post("/api/auth/request-code", authProxy)
		r.Post("/api/auth/verify-code", authProxy)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthServiceValidate(cfg.AuthServiceURL, nil))
		r.Get("/api/users/me", userH.GetMe)
		r.Put("/api/users/me/username", userH.UpdateUsername)
		r.Get("/api/feed/messages", feedH.GetMessages)
		r.Post("/api/feed/messages", feedH.Send)
		r.Get("/api/threads", threadH.List)
		r.Post("/api/threads/resolve", threadH.Resolve)
		r.Get("/api/threads/{threadID}/messages", threadH.GetMessages)
		r.Post("/api/threads/{threadID}/messages", threadH.Send)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	webDist := "./web/dist"
	if info, err := os.Stat(webDist); err == nil && info.IsDir() {
		r.Get("/*", spaHandler(webDist))
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func authProxyHandler(authBaseURL string) http.HandlerFunc {
	client := &http.Client{Timeout: 15 * time.Second}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		targetURL := strings.TrimSuffix(authBaseURL, "/") + r.URL.Path
		proxyReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, targetURL, bytes.NewReader(body))
		if err != nil {
			http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
			return
		}
		proxyReq.Header.Set("Content-Type", r.Header.Get("Content-Type"))
		if proxyReq.Header.Get("Content-Type") == "" {
			proxyReq.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(proxyReq)
		if err != nil {
			logger.Errorf("auth proxy: %v", err)
			http.Error(w, `{"error":"auth service unavailable"}`, http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}
}

func spaHandler(dir string) http.HandlerFunc {
	root := http.Dir(dir)
	fileServer := http.FileServer(root)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := root.Open(path); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	}
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil || len(names) == 0 {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	// fs.Glob сортирует имена, нумерация 001, 002, ... задаёт порядок.
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "lifesite"
		password = "lifesite_secret"
		database = "lifesite"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
