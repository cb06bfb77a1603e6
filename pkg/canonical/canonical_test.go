package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(out))
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]any{"cmd": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"cmd":"a<b>&c"}`, string(out))
}

func TestMarshal_NestedStructures(t *testing.T) {
	out, err := Marshal(map[string]any{
		"outer": map[string]any{"z": []any{1, "two"}, "a": true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"outer":{"a":true,"z":[1,"two"]}}`, string(out))
}

func TestHash_DeterministicAcrossRepresentations(t *testing.T) {
	// int and float64 render identically in canonical JSON.
	h1, err := Hash(map[string]any{"max_age_seconds": 600})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"max_age_seconds": float64(600)})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_DistinguishesContent(t *testing.T) {
	h1, err := Hash(map[string]any{"turn": "turn-1"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"turn": "turn-2"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHashBytes_KnownVector(t *testing.T) {
	// SHA-256 of the empty string.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashBytes(nil))
}

func TestMarshal_RejectsUnencodableValues(t *testing.T) {
	_, err := Marshal(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}
