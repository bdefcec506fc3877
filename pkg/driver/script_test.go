package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapScriptEmbedsArgs(t *testing.T) {
	expr, err := WrapScript("return arguments[0] + arguments[1];", []interface{}{1, "a"})
	require.NoError(t, err)
	assert.Contains(t, expr, `.apply(window, [1,"a"])`)
	assert.Contains(t, expr, "return arguments[0] + arguments[1];")
	assert.Contains(t, expr, "JSON.stringify({value:")
}

func TestWrapScriptNilArgs(t *testing.T) {
	expr, err := WrapScript("return 1;", nil)
	require.NoError(t, err)
	assert.Contains(t, expr, ".apply(window, [])")
}

func TestWrapAsyncScriptPushesCallback(t *testing.T) {
	expr, err := WrapAsyncScript("arguments[0](42);", nil)
	require.NoError(t, err)
	assert.Contains(t, expr, "new Promise(")
	assert.Contains(t, expr, "__args.push(")
}

func TestWrapScriptRejectsUnencodableArgs(t *testing.T) {
	_, err := WrapScript("return 1;", []interface{}{make(chan int)})
	assert.Error(t, err)
}

func TestDecodeResult(t *testing.T) {
	v, err := DecodeResult(`{"value":{"active":true}}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"active": true}, v)

	v, err = DecodeResult(`{"value":null}`)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = DecodeResult("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = DecodeResult("not json")
	assert.Error(t, err)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.True(t, Truthy(true))
	assert.True(t, Truthy(1.0))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(map[string]interface{}{}))
}
