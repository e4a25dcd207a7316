package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/boutique/internal/app"
	"github.com/fjod/boutique/internal/checkout"
	"github.com/fjod/boutique/internal/config"
	"github.com/fjod/boutique/pkg/logger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume the reconciliation topic and replay each request after its back-off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New("reconciler", cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("startup failed: %w", err)
			}
			defer a.Close(context.Background())

			r := checkout.NewReconciler(a.Checkout, cfg.ReconcileDelay, log, cfg.KafkaBrokers...)
			defer r.Close()

			log.Info("reconciler started", "topic", checkout.ReconciliationTopic, "delay", cfg.ReconcileDelay)
			r.Run(ctx)
			log.Info("reconciler stopped")
			return nil
		},
	}
}

func replayCmd() *cobra.Command {
	var (
		paymentID string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the queued request for one payment immediately",
		Long: `Scan the reconciliation topic from the beginning for the given gateway
payment id and replay the most recent request found. Replaying a payment that
already has an order is a no-op that reports the existing order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New("reconciler", cfg.LogLevel)

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("startup failed: %w", err)
			}
			defer a.Close(context.Background())

			// a throwaway group reads every partition from the first offset
			// without moving the run command's offsets
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:     cfg.KafkaBrokers,
				Topic:       checkout.ReconciliationTopic,
				GroupID:     "reconciler-replay-" + uuid.NewString(),
				StartOffset: kafka.FirstOffset,
				MaxBytes:    10e6,
			})
			defer reader.Close()

			scanCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := checkout.FindAndReplay(scanCtx, reader, a.Checkout, paymentID)
			if errors.Is(err, checkout.ErrPaymentNotQueued) {
				return fmt.Errorf("%w (scanned for %s)", err, timeout)
			}
			if err != nil {
				return err
			}

			if res.Duplicate {
				fmt.Fprintf(cmd.OutOrStdout(), "payment %s already committed as order %s\n", paymentID, res.OrderID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "payment %s committed as order %s\n", paymentID, res.OrderID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&paymentID, "payment-id", "", "gateway payment id to replay")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "how long to scan the topic")
	_ = cmd.MarkFlagRequired("payment-id")

	return cmd
}
