package http11

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderSetKeepsPosition(t *testing.T) {
	var h Header
	h.Add("A", "1")
	h.Add("B", "2")
	h.Add("a", "3")
	h.Add("C", "4")

	h.Set("A", "x")

	var names, values []string
	h.VisitAll(func(name, value string) bool {
		names = append(names, name)
		values = append(values, value)
		return true
	})
	assert.Equal(t, []string{"A", "B", "C"}, names)
	assert.Equal(t, []string{"x", "2", "4"}, values)
}

func TestHeaderLookup(t *testing.T) {
	var h Header
	h.Add("Set-Cookie", "a=1")
	h.Add("set-cookie", "b=2")

	assert.True(t, h.Has("SET-COOKIE"))
	assert.Equal(t, "a=1", h.Get("Set-Cookie"))
	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("set-cookie"))
	assert.Equal(t, "", h.Get("Missing"))

	h.Del("Set-Cookie")
	assert.False(t, h.Has("set-cookie"))
	assert.Equal(t, 0, h.Len())
}

func TestHeaderVisitAllStops(t *testing.T) {
	var h Header
	h.Add("A", "1")
	h.Add("B", "2")

	n := 0
	h.VisitAll(func(string, string) bool {
		n++
		return false
	})
	assert.Equal(t, 1, n)
}

func TestHeaderHasToken(t *testing.T) {
	var h Header
	h.Set("Connection", "Keep-Alive, Upgrade")
	assert.True(t, h.HasToken("connection", "keep-alive"))
	assert.True(t, h.HasToken("connection", "upgrade"))
	assert.False(t, h.HasToken("connection", "close"))
}

func TestHeaderReset(t *testing.T) {
	var h Header
	h.Add("A", "1")
	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.Has("A"))
}
