package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"futuresDesk/config"
	"futuresDesk/internal/adapters/logger"
	"futuresDesk/internal/app"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewLogrusLogger(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "testnet": cfg.IsTestnet})

	// 3. Wire adapters, managers, watchdog
	components, err := app.Build(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize components")
		log.Fatalf("FATAL: Failed to initialize components: %v", err)
	}
	defer func() {
		if err := components.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Application Service
	service, err := components.NewService()
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}

	// 5. Start the Service
	if err := service.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
