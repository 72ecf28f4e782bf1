package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"agentrun/internal/httpapi"
	"agentrun/internal/logging"
	"agentrun/pkg/agentrun"
)

func main() {
	log.Println("Starting AgentRun")

	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("WARNING: No .env file found, using environment variables")
		}
	}

	logging.Init()
	defer logging.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cfg, err := runnerConfigFromEnv()
	if err != nil {
		log.Fatalf("CRITICAL: invalid AgentRun config: %v", err)
	}

	ctx, cancelConstruct := context.WithTimeout(context.Background(), 60*time.Second)
	runner, err := agentrun.New(ctx, cfg)
	cancelConstruct()
	if err != nil {
		log.Fatalf("CRITICAL: failed to construct AgentRun runner: %v", err)
	}
	defer runner.Close()

	if os.Getenv("ENVIRONMENT") != "production" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.NewHandler(runner).Register(router)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	log.Printf("AgentRun listening on port %s", port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalf("CRITICAL: server failed to start: %v", err)
	case sig := <-quit:
		log.Printf("Received signal %v, starting graceful shutdown...", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("HTTP server stopped")
}

// runnerConfigFromEnv builds a RunnerConfig from AGENTRUN_* environment
// variables, starting from the documented defaults.
func runnerConfigFromEnv() (agentrun.RunnerConfig, error) {
	cfg := agentrun.DefaultRunnerConfig()

	cfg.ContainerName = os.Getenv("AGENTRUN_CONTAINER_NAME")
	cfg.DockerHost = os.Getenv("AGENTRUN_DOCKER_HOST")

	if v := os.Getenv("AGENTRUN_CPU_QUOTA"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, err
		}
		cfg.CPUQuota = n
	}
	if v := os.Getenv("AGENTRUN_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, err
		}
		cfg.DefaultTimeout = time.Duration(n) * time.Second
	}
	if v := os.Getenv("AGENTRUN_MEMORY_LIMIT"); v != "" {
		cfg.MemoryLimit = v
	}
	if v := os.Getenv("AGENTRUN_MEMSWAP_LIMIT"); v != "" {
		cfg.MemswapLimit = v
	}
	if v := os.Getenv("AGENTRUN_WHITELIST"); v != "" {
		cfg.DependenciesWhitelist = splitCommaList(v)
	}
	if v := os.Getenv("AGENTRUN_CACHED"); v != "" {
		cfg.CachedDependencies = splitCommaList(v)
	}

	return cfg, cfg.Validate()
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
