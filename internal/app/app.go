package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rwd-iot/sensornode/internal/bus"
	"github.com/rwd-iot/sensornode/internal/config"
	"github.com/rwd-iot/sensornode/internal/header"
)

// Source produces configurations on the bus until ctx is cancelled.
type Source interface {
	Run(ctx context.Context) error
}

// Renderer writes a configuration somewhere, typically a header file.
type Renderer interface {
	Render(cfg *config.Config) error
}

// Publisher distributes a configuration. It reports whether anything was
// sent.
type Publisher interface {
	Publish(cfg *config.Config) (bool, error)
}

// HeaderFile renders configurations to a header file with an atomic
// replace.
type HeaderFile string

// Render implements Renderer.
func (h HeaderFile) Render(cfg *config.Config) error {
	return header.WriteFile(string(h), cfg.ToHeader())
}

// Options selects what happens with each new configuration. Nil members are
// skipped.
type Options struct {
	Renderer      Renderer
	Publisher     Publisher
	RetryInterval time.Duration // failed publish retry, default config.PublishRetryInterval
}

// Run starts the source and a consumer that renders and publishes every
// configuration the source puts on the bus. It blocks until ctx is cancelled
// or the source fails.
func Run(parentCtx context.Context, src Source, b *bus.Bus, opts Options, logger *logrus.Logger) error {
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = config.PublishRetryInterval
	}

	// subscribe before the source can publish its first snapshot
	sub := b.Subscribe()
	grp, ctx := errgroup.WithContext(parentCtx)

	// Source ---------------------------------------------------------------
	grp.Go(func() error {
		return src.Run(ctx)
	})

	// Consumer -------------------------------------------------------------
	grp.Go(func() error {
		ticker := time.NewTicker(retry)
		defer ticker.Stop()

		var pending *config.Config // awaiting a successful publish
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				render(opts.Renderer, cfg, logger)
				pending = cfg
				if publish(opts.Publisher, pending, logger) {
					pending = nil
				}
			case <-ticker.C:
				if pending != nil && publish(opts.Publisher, pending, logger) {
					pending = nil
				}
			}
		}
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func render(r Renderer, cfg *config.Config, logger *logrus.Logger) {
	if r == nil {
		return
	}
	if err := r.Render(cfg); err != nil {
		logger.WithError(err).Error("app: render failed")
		return
	}
	logger.WithField("device", cfg.Tags.Device).Info("Header rendered")
}

// publish reports whether cfg no longer needs publishing.
func publish(p Publisher, cfg *config.Config, logger *logrus.Logger) bool {
	if p == nil {
		return true
	}
	if _, err := p.Publish(cfg); err != nil {
		logger.WithError(err).Warn("app: publish failed, will retry")
		return false
	}
	return true
}
