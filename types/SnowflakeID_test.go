package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeID_JSONKeepsPrecision(t *testing.T) {
	id := SnowflakeID(1898765432109876543)

	raw, err := json.Marshal(struct {
		ID SnowflakeID `json:"id"`
	}{id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1898765432109876543"}`, string(raw))

	var fromString, fromNumber SnowflakeID
	require.NoError(t, json.Unmarshal([]byte(`"1898765432109876543"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`42`), &fromNumber))
	assert.Equal(t, id, fromString)
	assert.Equal(t, SnowflakeID(42), fromNumber)

	var bad SnowflakeID
	assert.Error(t, json.Unmarshal([]byte(`"12ab"`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`true`), &bad))
}

func TestSnowflakeID_Scan(t *testing.T) {
	var id SnowflakeID
	require.NoError(t, id.Scan(int64(7)))
	assert.Equal(t, SnowflakeID(7), id)
	require.NoError(t, id.Scan([]byte("8")))
	assert.Equal(t, SnowflakeID(8), id)
	require.NoError(t, id.Scan("9"))
	assert.Equal(t, SnowflakeID(9), id)
	assert.Error(t, id.Scan(3.5))
}
