package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextVersion(t *testing.T) {
	cases := []struct {
		current string
		want    string
	}{
		{"", InitialVersion},
		{"v1.0.0", "v1.0.1"},
		{"v1.0.9", "v1.0.10"},
		{"v2.3.41", "v2.3.42"},
	}

	for _, tc := range cases {
		got, err := NextVersion(tc.current)
		require.NoError(t, err, "current=%q", tc.current)
		assert.Equal(t, tc.want, got)
	}
}

func TestNextVersionMalformed(t *testing.T) {
	for _, current := range []string{"1.0", "v1.2", "va.b.c", "v1.0.0.0"} {
		_, err := NextVersion(current)
		assert.Error(t, err, "current=%q", current)
	}
}

func TestErrorMessages(t *testing.T) {
	ve := &ValidationError{Field: "price", Reason: "must be positive"}
	assert.Equal(t, "invalid price: must be positive", ve.Error())

	te := &TrainingError{AssetID: "bitcoin", Err: ErrInsufficientData}
	assert.ErrorIs(t, te, ErrInsufficientData)

	se := &StorageError{Op: "insert", Err: ErrNotFound}
	assert.ErrorIs(t, se, ErrNotFound)
}
