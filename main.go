package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "taskpilot/app/configs"
	"taskpilot/app/core/interaction/http"
	"taskpilot/app/core/llm"
	"taskpilot/app/core/orchestrator/agent"
	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/db"
	"taskpilot/app/core/orchestrator/task"
	"taskpilot/app/core/orchestrator/tools"
	"taskpilot/app/pkg/logger"
)

func main() {
	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgManager.Get()

	if err := logger.Init(cfg.Storage.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("%s starting...", cfg.Agent.Name)

	database, err := db.NewSQLiteDB(cfg.Storage.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	taskStore := task.NewStore(database)
	conversationStore := conversation.NewStore(database)
	dispatcher := tools.NewDispatcher(taskStore)

	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		logger.Error("API key environment variable %s is not set", cfg.LLM.APIKeyEnv)
		os.Exit(1)
	}
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:    apiKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		logger.Error("Failed to build LLM client: %v", err)
		os.Exit(1)
	}

	brain := agent.New(cfg.Agent.Name, client, conversationStore, dispatcher, agent.RetryPolicy{
		MaxAttempts: cfg.Chat.MaxAttempts,
		BackoffStep: time.Duration(cfg.Chat.BackoffStepSec) * time.Second,
	}, cfg.Chat.HistoryLimit)

	server := http.NewServer(cfg.Server.Port, brain, taskStore, conversationStore)
	server.SetShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("HTTP server crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("%s is ready to serve.", cfg.Agent.Name)
	fmt.Printf("- Chat API:  http://localhost:%d/api/chat (POST)\n", cfg.Server.Port)
	fmt.Printf("- Tasks API: http://localhost:%d/api/tasks\n", cfg.Server.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Shutting down...", sig)
	cancel()
}
