package bootstrap

import (
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/boqhub/text2sql-go/internal/config"
	"github.com/boqhub/text2sql-go/internal/di"
	"github.com/boqhub/text2sql-go/internal/logger"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Container *dig.Container
}

// Init bootstraps configuration, logger and the DI container shared by the
// ingest and query entrypoints.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load dynamic configuration.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}

	container := di.InitContainer()
	if err := di.RegisterProviders(container); err != nil {
		return nil, err
	}

	return &App{Container: container}, nil
}

// Shutdown flushes buffered logs.
func (a *App) Shutdown() {
	logger.Sync()
}
