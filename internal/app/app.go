// Package app assembles the pieces every photoid binary shares: the render
// engine and the job store.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamismax/photoid/internal/compose"
	"github.com/dunamismax/photoid/internal/config"
	"github.com/dunamismax/photoid/internal/face"
	"github.com/dunamismax/photoid/internal/geometry"
	"github.com/dunamismax/photoid/internal/imageio"
	"github.com/dunamismax/photoid/internal/matting"
	"github.com/dunamismax/photoid/internal/pipeline"
	"github.com/dunamismax/photoid/internal/store"
	"github.com/sirupsen/logrus"
)

// Store is a job store that also records usage.
type Store interface {
	store.JobStore
	store.UsageStore
}

// NewEngine starts the image runtime, loads the face cascades and the
// configured matting backend. The returned cleanup releases native
// resources and must run once the engine is no longer used.
func NewEngine(cfg config.Config, logger *logrus.Entry) (*pipeline.Engine, func(), error) {
	if err := compose.Startup(); err != nil {
		return nil, nil, fmt.Errorf("start image runtime: %w", err)
	}
	cleanup := func() {
		if err := matting.Shutdown(); err != nil {
			logger.WithError(err).Warn("matting shutdown failed")
		}
		compose.Shutdown()
	}

	detector, err := face.Default(cfg.Face)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load face detector: %w", err)
	}
	if !detector.HasPupilCascade() {
		logger.WithField("dir", cfg.Face.CascadeDir).Warn("puploc cascade missing, eyes are estimated from the face box")
	}

	remover, err := matting.New(cfg.Matting)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init matting backend %q: %w", cfg.Matting.Backend, err)
	}

	engine, err := pipeline.NewEngine(pipeline.Dependencies{
		Detector:   detector,
		Remover:    remover,
		Geometry:   geometry.New(cfg.Geometry.InterocularRatio),
		Compositor: compose.New(),
		Limits:     imageio.Limits{MaxBytes: cfg.API.MaxUploadBytes},
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.WithFields(logrus.Fields{
		"matting":           strings.ToLower(cfg.Matting.Backend),
		"interocular_ratio": cfg.Geometry.InterocularRatio,
	}).Info("render engine ready")
	return engine, cleanup, nil
}

// OpenStore returns Postgres when a DSN is configured and an in-memory
// store otherwise.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Entry) (Store, func() error, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		logger.Warn("POSTGRES_DSN not set, jobs are kept in memory")
		return store.NewMemoryJobStore(), func() error { return nil }, nil
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
