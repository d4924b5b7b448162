package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_KeyOrderIndependence(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": true, "x": false}}
	b := map[string]any{"c": map[string]any{"x": false, "y": true}, "a": 1, "b": 2}

	ca, err := JCS(a)
	require.NoError(t, err)
	cb, err := JCS(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"a":1,"b":2,"c":{"x":false,"y":true}}`, string(ca))
}

func TestCanonicalHash_Deterministic(t *testing.T) {
	v := map[string]any{"actor": "SYSTEM", "action": "start", "meta": map[string]any{"k": "v"}}

	h1, err := CanonicalHash(v)
	require.NoError(t, err)
	h2, err := CanonicalHash(v)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestCanonicalHash_ContentSensitive(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"action": "start"})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"action": "stop"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]any{"q": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b>&c"}`, string(out))
}
