package balanced

import "errors"

var (
	// ErrInvalidParameter reports a hyperparameter outside its domain.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInsufficientData reports an input sequence not longer than the seed set.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrShapeMismatch reports a feature vector whose length differs from the model's.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNotFitted reports a distance requested before any successful fit.
	ErrNotFitted = errors.New("model not fitted")
	// ErrDegenerateModel reports a retained set whose covariance cannot be used.
	ErrDegenerateModel = errors.New("degenerate model")
	// ErrCancelled reports a generation aborted through its context.
	ErrCancelled = errors.New("generation cancelled")
	// ErrEmptyModel reports a save or classification on a model with no
	// balanced distribution.
	ErrEmptyModel = errors.New("empty model")
)
