package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"cofre/internal/amqp"
	"cofre/internal/config"
	"cofre/internal/core"
	"cofre/internal/storage"
)

// notify-worker consumes ledger events from the broker and fans each one
// out as an in-app notification to every user of the tenant owning the
// workspace. Events it cannot phrase are dropped silently.

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting notify-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger database", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	handler := func(event *amqp.Event) error {
		title, body := phrase(event)
		if title == "" {
			return nil
		}

		users, err := repo.ListUsersForWorkspace(ctx, event.WorkspaceID)
		if err != nil {
			return fmt.Errorf("list users for workspace %s: %w", event.WorkspaceID, err)
		}
		for _, userID := range users {
			n := core.Notification{
				ID:        uuid.NewString(),
				UserID:    userID,
				Title:     title,
				Body:      body,
				CreatedAt: time.Now().UTC(),
			}
			if err := repo.InsertNotification(ctx, n); err != nil {
				return fmt.Errorf("insert notification for user %s: %w", userID, err)
			}
		}

		slog.InfoContext(ctx, "Notification fanned out",
			"type", event.Type,
			"workspace_id", event.WorkspaceID,
			"recipients", len(users))
		return nil
	}

	logger.Info("Consuming ledger events", "queue", cfg.AMQPQueue)
	if err := amqpClient.ConsumeEvents(ctx, handler); err != nil && err != context.Canceled {
		logger.Error("Event consumption failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Notify-worker shutdown complete")
}

// phrase turns an event into a user-facing title and body. An empty title
// means the event carries nothing worth telling a person about.
func phrase(event *amqp.Event) (string, string) {
	switch event.Type {
	case amqp.EventInvoicePaid:
		return "Credit card invoice paid",
			fmt.Sprintf("An invoice of %s was settled.", event.Amount)
	case amqp.EventBudgetThreshold:
		return "Budget almost used up",
			fmt.Sprintf("A budget reached %s.", event.Detail)
	case amqp.EventCardDueSoon:
		return "Credit card invoice due soon",
			fmt.Sprintf("An open invoice of %s is about to fall due.", event.Amount)
	case amqp.EventGoalReached:
		return "Savings goal reached",
			fmt.Sprintf("Goal %s hit its target.", event.EntityID)
	default:
		// transaction.created and friends are too chatty to notify on.
		return "", ""
	}
}
