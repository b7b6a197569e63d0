package core

import "errors"

// Engine error constants. Each maps to a stable machine-readable kind via
// ErrorKind so API clients can branch without string matching.
var (
	// ErrInsufficientData is returned when a training set has too few valid
	// rows to fit a scaler and scorer.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrEmptyTrainingSet is returned when forest training receives zero
	// scaled records.
	ErrEmptyTrainingSet = errors.New("empty training set")

	// ErrModelNotTrained is returned when scoring is requested before any
	// model has been trained or loaded.
	ErrModelNotTrained = errors.New("model not trained")

	// ErrModelNotFound is returned when no persisted snapshot exists for
	// the requested tag.
	ErrModelNotFound = errors.New("model not found")

	// ErrInvalidRange is returned when a query start date is after its end
	// date.
	ErrInvalidRange = errors.New("invalid date range: start date is after end date")

	// ErrUnknownFeature is returned when a feature filter names a feature
	// that does not exist.
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrIncompatibleModelVersion is returned when a persisted snapshot was
	// written with an incompatible format version. The model must be
	// retrained.
	ErrIncompatibleModelVersion = errors.New("incompatible model format version")
)

// Error kinds surfaced in API error envelopes.
const (
	KindParseError          = "parse_error"
	KindInsufficientData    = "insufficient_data"
	KindEmptyTrainingSet    = "empty_training_set"
	KindModelNotTrained     = "model_not_trained"
	KindModelNotFound       = "model_not_found"
	KindInvalidRange        = "invalid_range"
	KindUnknownFeature      = "unknown_feature"
	KindIncompatibleVersion = "incompatible_model_version"
	KindInternal            = "internal"
)

// ErrorKind maps an error to its machine-readable kind. Unrecognized errors
// map to KindInternal.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, ErrEmptyTrainingSet):
		return KindEmptyTrainingSet
	case errors.Is(err, ErrModelNotTrained):
		return KindModelNotTrained
	case errors.Is(err, ErrModelNotFound):
		return KindModelNotFound
	case errors.Is(err, ErrInvalidRange):
		return KindInvalidRange
	case errors.Is(err, ErrUnknownFeature):
		return KindUnknownFeature
	case errors.Is(err, ErrIncompatibleModelVersion):
		return KindIncompatibleVersion
	default:
		return KindInternal
	}
}
