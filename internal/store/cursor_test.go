package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token := EncodeCursor("6fa1c2de-0b7f-4f07-9b1e-3d2a6c9f8e10")
	require.NotEmpty(t, token)

	id, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "6fa1c2de-0b7f-4f07-9b1e-3d2a6c9f8e10", id)
}

func TestCursorEmptyMeansFirstPage(t *testing.T) {
	assert.Empty(t, EncodeCursor(""))

	id, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"!!not-base64!!", "===", "AA=A"} {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrInvalidCursor, "token %q", token)
	}
}
