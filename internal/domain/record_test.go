package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccessorsOnDecodedJSON(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"room":"r1","users":["u1",7,null]}`), &rec))

	assert.Equal(t, "42", rec.ID())
	assert.Equal(t, "r1", rec.String("room"))
	assert.Equal(t, []string{"u1", "7"}, rec.Strings("users"))
	assert.Nil(t, rec.Strings("room"))
	assert.Equal(t, "", rec.String("missing"))
}

func TestStateKey(t *testing.T) {
	key, ok := StateKey("Online")
	assert.True(t, ok)
	assert.Equal(t, StateOnline, key)

	_, ok = StateKey("Busy")
	assert.False(t, ok)
}
