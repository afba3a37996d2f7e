package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/lending-backend/api/responses"
	"github.com/angelmondragon/lending-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/lending-backend/pkg/errors"
	"github.com/angelmondragon/lending-backend/pkg/logger"
)

const (
	envHeader    = "X-Lending-Env"
	readyTimeout = 2 * time.Second
)

// Pinger is a dependency probed by the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NamedPinger pairs a dependency with the name reported when it fails.
type NamedPinger struct {
	Name   string
	Pinger Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings each dependency and reports 503 on the first failure.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...NamedPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		for _, dep := range deps {
			if dep.Pinger == nil {
				continue
			}
			if err := dep.Pinger.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, dep.Name+" unavailable").
						WithDetails(map[string]string{"dependency": dep.Name}))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
