package backend

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kiranshivaraju/meshforge/internal/backend/mock"
	"github.com/kiranshivaraju/meshforge/internal/backend/remote"
	"github.com/kiranshivaraju/meshforge/internal/config"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// NewBackend constructs the generation backend selected by config.
// Called once at server startup.
func NewBackend(cfg config.BackendConfig, logger *zap.Logger) (models.GenerationBackend, error) {
	switch cfg.Kind {
	case config.BackendMock:
		logger.Info("using demo backend", zap.Duration("stage_delay", cfg.MockStageDelay))
		return mock.New(mock.WithStageDelay(cfg.MockStageDelay)), nil
	case config.BackendRemote:
		logger.Info("using remote backend", zap.String("url", cfg.URL), zap.Duration("timeout", cfg.Timeout))
		return remote.NewClient(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown backend %q: must be one of mock, remote", cfg.Kind)
	}
}
