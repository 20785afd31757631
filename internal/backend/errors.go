package backend

import "github.com/kiranshivaraju/meshforge/pkg/models"

// Re-exported so callers can match backend failures without importing pkg/models.
var (
	ErrBackendUnavailable = models.ErrBackendUnavailable
	ErrStageFailed        = models.ErrStageFailed
)
