package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"taskboard/backend/internal/config"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("=== Task Board API ===")
	log.Printf("Environment: %s", cfg.Server.Environment)
	log.Printf("Database: %s", cfg.Database.Driver)
	log.Printf("Redis: %s", cfg.GetRedisAddr())

	app, err := newApplication(cfg, newRedisClient(cfg))
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	app.start()

	srv := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				if err := srv.Shutdown(ctx); err != nil {
					return err
				}
				app.stopWorker()
				return app.close()
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}
