package rodsession

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/logger"
)

func TestAuthResponse(t *testing.T) {
	proxyChallenge := &proto.FetchAuthChallenge{Source: proto.FetchAuthChallengeSourceProxy}
	res := authResponse(proxyChallenge, "alice", "secret")
	assert.Equal(t, proto.FetchAuthChallengeResponseResponseProvideCredentials, res.Response)
	assert.Equal(t, "alice", res.Username)
	assert.Equal(t, "secret", res.Password)

	res = authResponse(nil, "alice", "secret")
	assert.Equal(t, proto.FetchAuthChallengeResponseResponseProvideCredentials, res.Response)

	res = authResponse(&proto.FetchAuthChallenge{Source: proto.FetchAuthChallengeSourceServer}, "alice", "secret")
	assert.Equal(t, proto.FetchAuthChallengeResponseResponseDefault, res.Response)
	assert.Empty(t, res.Password)
}

// authProxy is a forward proxy that demands basic credentials and serves
// every proxied request itself
func authProxy(t *testing.T, username, password string) (*httptest.Server, *int32) {
	t.Helper()
	var served int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := parseProxyAuth(r)
		if !ok || user != username || pass != password {
			w.Header().Set("Proxy-Authenticate", `Basic realm="gallery"`)
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		atomic.AddInt32(&served, 1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><head><title>%s</title></head><body>ok</body></html>", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv, &served
}

func parseProxyAuth(r *http.Request) (string, string, bool) {
	header := r.Header.Get("Proxy-Authorization")
	if header == "" {
		return "", "", false
	}
	req := &http.Request{Header: http.Header{"Authorization": {header}}}
	return req.BasicAuth()
}

func TestSessionNavigatesRepeatedlyThroughCredentialedProxy(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a browser")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chromium found")
	}

	proxy, served := authProxy(t, "alice", "secret")
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	session, err := New(logger.NewNopLogger()).Open(ctx, browser.Profile{
		Headless:   true,
		BinaryPath: bin,
		Proxy: &browser.ProxySettings{
			Server:   proxy.URL,
			Username: "alice",
			Password: "secret",
		},
	})
	require.NoError(t, err)
	defer session.Close()

	for i := 1; i <= 4; i++ {
		url := fmt.Sprintf("http://gallery.test/item/%d", i)
		meta, err := session.Navigate(ctx, url, browser.NavigateOptions{Timeout: 15 * time.Second})
		require.NoError(t, err, "navigation %d", i)
		assert.Equal(t, http.StatusOK, meta.Status, "navigation %d", i)
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(served), int32(4))
}
