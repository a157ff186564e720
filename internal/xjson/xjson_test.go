package xjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"nome":"Clinica","count":2}`))
	require.NoError(t, err)
	assert.Equal(t, "Clinica", obj["nome"])
	assert.Equal(t, 2.0, obj["count"])

	obj, err = DecodeObject([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, obj)

	_, err = DecodeObject([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = DecodeObject([]byte(`null`))
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestHashIgnoresKeyOrder(t *testing.T) {
	a, err := Hash("path", map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	b, err := Hash("path", map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	c, err := Hash("other", map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
