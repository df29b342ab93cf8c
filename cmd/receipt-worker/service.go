package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger   *logger.Logger
	DB       pinger
	PubSub   pinger
	Consumer runner
}

type Service struct {
	logg     *logger.Logger
	db       pinger
	pubsub   pinger
	consumer runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("receipt consumer is required")
	}
	return &Service{
		logg:     params.Logger,
		db:       params.DB,
		pubsub:   params.PubSub,
		consumer: params.Consumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all receipt worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	heartbeat := time.NewTicker(time.Minute)
	defer heartbeat.Stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.consumer.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "receipt worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "receipt consumer stopped unexpectedly", err)
				return err
			}
			return err
		case <-heartbeat.C:
			s.logg.Debug(ctx, "receipt worker heartbeat")
		}
	}
}
