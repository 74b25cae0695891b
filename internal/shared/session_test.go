package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "test_session", "secret", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newTestManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.True(t, sess.IsNew())
	sess.SetIdentity("u-1", "org_admin", "org-123")

	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	assert.True(t, mr.Exists("session:"+sess.ID))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "test_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.False(t, loaded.IsNew())
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "u-1", loaded.User())
	assert.Equal(t, "org_admin", loaded.Get(SessionKeyRole))
	assert.Equal(t, "org-123", loaded.Get(SessionKeyOrgID))
}

func TestSessionUnknownCookieStartsFresh(t *testing.T) {
	sm, _ := newTestManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "test_session", Value: "attacker-chosen"})
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, sess.IsNew())
	assert.NotEqual(t, "attacker-chosen", sess.ID)
}

func TestSessionCookieIsSigned(t *testing.T) {
	sm, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("u-1")
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	cookie := rr.Result().Cookies()[0]
	assert.True(t, strings.HasPrefix(cookie.Value, sess.ID+"."))

	for name, value := range map[string]string{
		"bare id":      sess.ID,
		"tampered tag": sess.ID + ".AAAA",
		"other secret": NewSessionManager(nil, "test_session", "other", time.Hour, false).sign(sess.ID),
		"undecodable":  sess.ID + ".!!!",
		"leading dot":  "." + strings.SplitN(cookie.Value, ".", 2)[1],
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "test_session", Value: value})
		loaded, err := sm.Load(ctx, req)
		require.NoError(t, err, name)
		assert.True(t, loaded.IsNew(), name)
		assert.Empty(t, loaded.User(), name)
	}
}

func TestSessionDestroy(t *testing.T) {
	sm, mr := newTestManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	sm.Destroy(sess)
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	assert.False(t, mr.Exists("session:"+sess.ID))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestSessionExpiresWithTTL(t *testing.T) {
	sm, mr := newTestManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("u-1")
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)

	mr.FastForward(2 * time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, loaded.User())
}

func TestSessionContext(t *testing.T) {
	assert.Nil(t, SessionFromContext(context.Background()))
	sess := &Session{ID: "abc"}
	ctx := ContextWithSession(context.Background(), sess)
	assert.Same(t, sess, SessionFromContext(ctx))
}

func TestSetIdentityClearsOrganization(t *testing.T) {
	sess := &Session{}
	sess.SetIdentity("u-1", "user", "org-1")
	sess.SetIdentity("u-1", "user", "")
	assert.Empty(t, sess.Get(SessionKeyOrgID))
}
