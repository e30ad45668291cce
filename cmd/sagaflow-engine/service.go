package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/sagaflow/pkg/eventbus"
	"github.com/dukex/sagaflow/pkg/timer"
	"golang.org/x/sync/errgroup"
)

// Service consumes task updates and drives the engine. With an in-process
// timer store it also runs the timer poller, since no other process can see
// those timers.
type Service struct {
	consumer *eventbus.UpdateConsumer
	poller   *timer.Poller
	logger   *slog.Logger
}

func NewService(logger *slog.Logger, consumer *eventbus.UpdateConsumer, poller *timer.Poller) *Service {
	return &Service{
		consumer: consumer,
		poller:   poller,
		logger:   logger.With("module", "engine_service"),
	}
}

// Start runs until ctx is cancelled or a termination signal arrives.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.InfoContext(ctx, "Starting engine")

	s.handleSignals(ctx, cancel)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.consumer.Run(ctx)
	})

	if s.poller != nil {
		g.Go(func() error {
			return s.poller.Run(ctx)
		})
	}

	err := g.Wait()

	s.logger.InfoContext(ctx, "Engine stopped")

	return err
}

func (s *Service) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)

		select {
		case sig := <-signals:
			s.logger.InfoContext(ctx, "Received signal, shutting down gracefully", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
}
