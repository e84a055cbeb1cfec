package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Charitha2009/chronicle/internal/engine"
)

// StartRecovery periodically resumes campaigns whose start was interrupted.
func StartRecovery(ctx context.Context, e engine.Engine, log logrus.FieldLogger) {
	cfg := e.Config
	if cfg == nil || cfg.RecoveryInterval() <= 0 {
		return
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "recovery")
	go func() {
		ticker := time.NewTicker(cfg.RecoveryInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			outcomes, err := e.RecoverStalled(ctx, cfg.StalledAfter())
			if err != nil {
				log.WithError(err).Warn("recovery sweep failed")
				continue
			}
			for _, o := range outcomes {
				if o.Err == nil {
					log.WithFields(logrus.Fields{"code": o.Code, "step": o.Step}).Info("resumed stalled start")
				}
			}
		}
	}()
}
