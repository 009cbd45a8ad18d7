package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/lmoreira/aquaflow/internal/api"
	"github.com/lmoreira/aquaflow/internal/config"
	"github.com/lmoreira/aquaflow/internal/integration/openai"
	"github.com/lmoreira/aquaflow/internal/repository"
	"github.com/lmoreira/aquaflow/internal/usecases"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting aquaflow monitor...")

	cfg := config.Load()

	// Initialize repository
	repo, err := repository.NewSQLiteReadingRepository(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	// Initialize use case
	detector := usecases.NewLeakDetector(cfg.LeakThresholdLPS, cfg.MinWindowSamples)
	forecaster := usecases.NewForecaster(cfg.HorizonDays, cfg.MovingAvgDays)
	useCase := usecases.NewFlowUseCase(repo, detector, forecaster, cfg.TariffBRLPerM3)

	// Initialize OpenAI service; the bot works without it
	openAIService, err := openai.NewOpenAIService()
	if err != nil {
		log.Printf("Natural language queries disabled: %v", err)
	} else {
		useCase.SetOpenAIService(openAIService)
	}

	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN environment variable is not set")
	}

	// Initialize Telegram bot
	telegramBot, err := api.NewTelegramBot(cfg.TelegramToken, useCase, cfg.AlertChatID)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram bot: %v", err)
	}

	// Push leak alerts in the background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go telegramBot.RunAlertNotifier(ctx, 30*time.Second)

	// Start the bot
	telegramBot.Start()
}
