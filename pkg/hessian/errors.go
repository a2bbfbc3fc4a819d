package hessian

import "discretehessian/internal/models"

// Error categories returned by the filters. Every error returned by
// ComputeHessian wraps one of them.
var (
	ErrConfiguration    = models.ErrConfiguration
	ErrInsufficientData = models.ErrInsufficientData
	ErrAllocation       = models.ErrAllocation
	ErrStageFailure     = models.ErrStageFailure
)

// StageError names the pipeline stage that failed
type StageError = models.StageError
