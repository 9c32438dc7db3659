package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTrip(t *testing.T) {
	type sample struct {
		ID   uint64 `json:"id"`
		Name string `json:"name,omitempty"`
	}

	data, err := Marshal(sample{ID: 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(data))

	var out sample
	require.NoError(t, Unmarshal([]byte(`{"id":9,"name":"文"}`), &out))
	assert.Equal(t, sample{ID: 9, Name: "文"}, out)
}
