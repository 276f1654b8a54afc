package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"orderflow/internal/broker"
	"orderflow/internal/config"
	"orderflow/internal/constants"
	"orderflow/internal/dlq"
	"orderflow/internal/logger"
	"orderflow/pkg/logging"
	"orderflow/pkg/metrics"
)

var (
	configFile string
	dlqTopic   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dlq-replay",
		Short: "Dead-letter replay tool",
		Long:  "Replays dead-lettered messages back to their original topics once the underlying failure is fixed",
		RunE:  replayCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")
	rootCmd.PersistentFlags().StringVar(&dlqTopic, "topic", "", "Dead-letter topic to drain (defaults to the order topic's DLQ)")

	rootCmd.AddCommand(replayCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Consume the dead-letter topic and re-publish its messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
				if configFile == "" {
					earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
					return fmt.Errorf("config file is required")
				}
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			topic := dlqTopic
			if topic == "" {
				orderTopic := cfg.Broker.Kafka.OrderTopic
				if orderTopic == "" {
					orderTopic = constants.DefaultOrderTopic
				}
				topic = dlq.Topic(orderTopic)
			}

			// The replay group id is distinct from the consumer's so draining
			// the DLQ never disturbs the main group's offsets.
			cfg.Broker.Kafka.GroupID = cfg.Broker.Kafka.GroupID + "-dlq-replay"

			consumer, err := broker.NewConsumer(cfg.Broker, log)
			if err != nil {
				log.Errorw("Failed to create consumer", "error", err)
				return err
			}
			defer consumer.Close()
			consumer.SetServiceName("dlq-replay")

			producer, err := broker.NewSyncProducer(cfg.Broker, log)
			if err != nil {
				log.Errorw("Failed to create producer", "error", err)
				return err
			}
			defer producer.Close()

			metrics.RegisterConsumerMetrics()
			metrics.RegisterBrokerMetrics()

			log.InfowCtx(ctx, "Starting dead-letter replay", "dlq_topic", topic)

			replayer := dlq.NewReplayer(consumer, producer, log)
			if err := replayer.Run(ctx, topic); err != nil && err != context.Canceled {
				log.ErrorwCtx(ctx, "Replay stopped with error", "error", err)
				return err
			}

			log.InfowCtx(ctx, "Replay stopped")
			return nil
		},
	}
}
