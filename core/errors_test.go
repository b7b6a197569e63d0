package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorKind tests the error-to-kind mapping, including wrapped errors
func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"insufficient data", ErrInsufficientData, KindInsufficientData},
		{"empty training set", ErrEmptyTrainingSet, KindEmptyTrainingSet},
		{"model not trained", ErrModelNotTrained, KindModelNotTrained},
		{"model not found", ErrModelNotFound, KindModelNotFound},
		{"invalid range", ErrInvalidRange, KindInvalidRange},
		{"unknown feature", ErrUnknownFeature, KindUnknownFeature},
		{"incompatible version", ErrIncompatibleModelVersion, KindIncompatibleVersion},
		{"wrapped", fmt.Errorf("training failed: %w", ErrInsufficientData), KindInsufficientData},
		{"double wrapped", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrModelNotFound)), KindModelNotFound},
		{"unrecognized", errors.New("something else"), KindInternal},
		{"nil", nil, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}

// TestFeatureIndex tests name-to-index resolution
func TestFeatureIndex(t *testing.T) {
	for i, name := range FeatureNames {
		idx, ok := FeatureIndex(name)
		assert.True(t, ok, name)
		assert.Equal(t, i, idx)
	}

	_, ok := FeatureIndex("wattage")
	assert.False(t, ok)
}

// TestRecord_Features tests the feature vector ordering
func TestRecord_Features(t *testing.T) {
	r := Record{
		GlobalActivePower:   1,
		GlobalReactivePower: 2,
		Voltage:             3,
		GlobalIntensity:     4,
		SubMetering1:        5,
		SubMetering2:        6,
		SubMetering3:        7,
	}

	features := r.Features()
	assert.Equal(t, [FeatureCount]float64{1, 2, 3, 4, 5, 6, 7}, features)
	for i := 0; i < FeatureCount; i++ {
		assert.Equal(t, features[i], r.Feature(i))
	}
}
