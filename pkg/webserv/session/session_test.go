package session

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/webserv/pkg/webserv/http11"
)

func requestWithCookie(cookie string) *http11.Request {
	req := &http11.Request{Method: "GET", Proto: http11.Proto11}
	if cookie != "" {
		req.Header.Set(http11.HeaderCookie, cookie)
	}
	return req
}

func TestTouchCreatesAndReuses(t *testing.T) {
	s := NewStore(16, time.Minute)

	sess, isNew := s.Touch(requestWithCookie(""))
	require.True(t, isNew)
	_, err := uuid.Parse(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Visits)

	again, isNew := s.Touch(requestWithCookie("theme=dark; " + CookieName + "=" + sess.ID))
	assert.False(t, isNew)
	assert.Equal(t, sess.ID, again.ID)
	assert.Equal(t, 2, again.Visits)
	assert.Equal(t, 1, s.Len())
}

func TestTouchRejectsUnknownOrMalformed(t *testing.T) {
	s := NewStore(16, time.Minute)

	for _, cookie := range []string{
		CookieName + "=not-a-uuid",
		CookieName + "=" + uuid.NewString(),
	} {
		_, isNew := s.Touch(requestWithCookie(cookie))
		assert.True(t, isNew, cookie)
	}
	assert.Equal(t, 2, s.Len())
}

func TestStoreIsBounded(t *testing.T) {
	s := NewStore(2, time.Minute)
	first, _ := s.Touch(requestWithCookie(""))
	s.Touch(requestWithCookie(""))
	s.Touch(requestWithCookie(""))

	assert.Equal(t, 2, s.Len())
	_, ok := s.Lookup(first.ID)
	assert.False(t, ok, "oldest session should be evicted")
}

func TestSessionExpires(t *testing.T) {
	s := NewStore(16, 50*time.Millisecond)
	sess, _ := s.Touch(requestWithCookie(""))

	require.Eventually(t, func() bool {
		_, ok := s.Lookup(sess.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApply(t *testing.T) {
	s := NewStore(16, time.Minute)

	resp := http11.NewResponse(200)
	s.Apply(requestWithCookie(""), resp)
	cookie := resp.Header.Get(http11.HeaderSetCookie)
	require.True(t, strings.HasPrefix(cookie, CookieName+"="), cookie)
	assert.True(t, strings.HasSuffix(cookie, "; Path=/; HttpOnly"), cookie)

	id := strings.TrimSuffix(strings.TrimPrefix(cookie, CookieName+"="), "; Path=/; HttpOnly")
	resp = http11.NewResponse(200)
	s.Apply(requestWithCookie(CookieName+"="+id), resp)
	assert.False(t, resp.Header.Has(http11.HeaderSetCookie), "known session gets no new cookie")

	resp = http11.NewResponse(404)
	s.Apply(requestWithCookie(""), resp)
	assert.False(t, resp.Header.Has(http11.HeaderSetCookie), "errors get no cookie")

	var nilStore *Store
	assert.NotPanics(t, func() { nilStore.Apply(requestWithCookie(""), http11.NewResponse(200)) })
}
