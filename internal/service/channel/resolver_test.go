package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewResolver(WithBaseURLs(srv.URL, srv.URL), WithHTTPClient(srv.Client()))
}

func TestChatChannelID(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/polling/v2/channels/streamer-1/live-status", req.URL.Path)
		assert.Contains(t, req.Header.Get("User-Agent"), "Mozilla/5.0")
		_, _ = w.Write([]byte(`{"code":200,"content":{"chatChannelId":"N1abc"}}`))
	})

	id, err := r.ChatChannelID(context.Background(), "streamer-1")
	require.NoError(t, err)
	assert.Equal(t, "N1abc", id)
}

func TestChannelName(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/service/v1/channels/streamer-1", req.URL.Path)
		_, _ = w.Write([]byte(`{"code":200,"content":{"channelName":"방송인"}}`))
	})

	name, err := r.ChannelName(context.Background(), "streamer-1")
	require.NoError(t, err)
	assert.Equal(t, "방송인", name)
}

func TestAccessTokenSendsCookies(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/nng_main/v1/chats/access-token", req.URL.Path)
		assert.Equal(t, "N1abc", req.URL.Query().Get("channelId"))
		assert.Equal(t, "STREAMING", req.URL.Query().Get("chatType"))
		c, err := req.Cookie(CookieNIDAuth)
		require.NoError(t, err)
		assert.Equal(t, "aut", c.Value)
		_, _ = w.Write([]byte(`{"code":200,"content":{"accessToken":"acc","extraToken":"extra"}}`))
	})

	tok, err := r.AccessToken(context.Background(), "N1abc", Cookies{{Name: CookieNIDAuth, Value: "aut"}})
	require.NoError(t, err)
	assert.Equal(t, Token{AccessToken: "acc", ExtraToken: "extra"}, tok)
}

func TestUserIDHashMissingField(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"content":{"loggedIn":false}}`))
	})

	_, err := r.UserIDHash(context.Background(), nil)
	require.Error(t, err)

	var re *ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, OpUserIDHash, re.Op)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestResolverErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusNotFound)
		},
		"bad json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{`))
		},
		"null content": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"code":404,"message":"not found","content":null}`))
		},
		"empty id": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"content":{"chatChannelId":""}}`))
		},
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			r := newTestResolver(t, h)
			_, err := r.ChatChannelID(context.Background(), "bad")
			require.Error(t, err)
			assert.True(t, IsResolutionError(err))
			assert.Contains(t, err.Error(), "chat_channel_id(bad)")
		})
	}
}

func TestLoadCookies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"NID_SES":"ses","NID_AUT":"aut"}`), 0o600))

	cookies, err := LoadCookies(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"NID_AUT", "NID_SES"}, cookies.Names())
	assert.True(t, cookies.Has(CookieNIDSession))
	assert.False(t, cookies.Has("other"))

	_, err = LoadCookies(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`[1,2]`), 0o600))
	_, err = LoadCookies(path)
	assert.Error(t, err)
}
