package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/operator-console/internal/archive"
	"github.com/psds-microservice/operator-console/internal/config"
	"github.com/psds-microservice/operator-console/internal/database"
	"github.com/psds-microservice/operator-console/internal/kafka"
	"github.com/psds-microservice/operator-console/internal/logger"
	"github.com/psds-microservice/operator-console/internal/messenger"
	"github.com/psds-microservice/operator-console/internal/model"
	"github.com/spf13/cobra"
)

var republishBatch int

var republishCmd = &cobra.Command{
	Use:   "republish-events",
	Short: "Send issue.snapshot for every archived issue to Kafka (rebuild downstream consumers)",
	RunE:  runRepublish,
}

func init() {
	republishCmd.Flags().IntVar(&republishBatch, "batch", 100, "archive read batch size")
}

func runRepublish(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return err
	}
	entry := logger.Component(log, "republish")

	producer := kafka.NewProducer(kafka.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopicIssue, logger.Component(log, "kafka"))
	if !producer.Enabled() {
		return errors.New("republish-events: KAFKA_BROKERS is not set")
	}
	defer producer.Close()

	conn, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	mirror := archive.NewMirror(conn, logger.Component(log, "archive"))
	defer mirror.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	total, err := mirror.Each(ctx, republishBatch, func(issue model.Issue) error {
		producer.ProduceIssueEvent(ctx, messenger.IssueEventSnapshot, messenger.IssuePayload(&issue, nil))
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("republish-events: %w", err)
	}
	entry.WithField("issues", total).Info("republish-events: done")
	return nil
}
