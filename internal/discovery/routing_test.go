package discovery

import (
	"net/url"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func mustParseTest(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRouterRootRequestIsCaptured(t *testing.T) {
	root := mustParseTest(t, "https://example.com/page")
	rt, err := newRouter(root, nil, nil)
	require.NoError(t, err)

	dec := rt.route("https://example.com/page", network.ResourceTypeDocument, false)
	require.True(t, dec.capture)
	require.True(t, dec.isRoot)
	require.False(t, dec.abort)
}

func TestRouterSameHostnameAlwaysCaptured(t *testing.T) {
	root := mustParseTest(t, "https://example.com/page")
	rt, err := newRouter(root, nil, nil)
	require.NoError(t, err)

	dec := rt.route("https://example.com/app.js", network.ResourceTypeScript, false)
	require.True(t, dec.capture)
	require.False(t, dec.isRoot)
}

func TestRouterAllowedHostnameGlob(t *testing.T) {
	root := mustParseTest(t, "https://example.com/page")
	rt, err := newRouter(root, []string{"*.cdn.example.com"}, nil)
	require.NoError(t, err)

	dec := rt.route("https://assets.cdn.example.com/a.png", network.ResourceTypeImage, false)
	require.True(t, dec.capture)
}

func TestRouterBareWildcardMatchesEveryHostname(t *testing.T) {
	root := mustParseTest(t, "https://example.com/page")
	rt, err := newRouter(root, []string{"*"}, nil)
	require.NoError(t, err)

	dec := rt.route("https://anything.example.net/x.css", network.ResourceTypeStylesheet, false)
	require.True(t, dec.capture)
}

func TestRouterDisallowedHostnameAborts(t *testing.T) {
	root := mustParseTest(t, "https://example.com/page")
	rt, err := newRouter(root, []string{"*"}, []string{"ads.example.com"})
	require.NoError(t, err)

	dec := rt.route("https://ads.example.com/tracker.js", network.ResourceTypeScript, false)
	require.True(t, dec.abort)
	require.False(t, dec.capture)
}

func TestRouterUnrelatedHostnameNotCaptured(t *testing.T) {
	root := mustParseTest(t, "https://example.com/page")
	rt, err := newRouter(root, nil, nil)
	require.NoError(t, err)

	dec := rt.route("https://unrelated.net/x.png", network.ResourceTypeImage, false)
	require.False(t, dec.capture)
	require.False(t, dec.abort)
}

func TestRouterNonNetworkSchemeIsMarked(t *testing.T) {
	root := mustParseTest(t, "https://example.com/page")
	rt, err := newRouter(root, nil, nil)
	require.NoError(t, err)

	dec := rt.route("data:image/png;base64,AAAA", network.ResourceTypeImage, false)
	require.True(t, dec.nonNetwork)
	require.False(t, dec.abort)
}

func TestRouterPrefetchIsNeverCaptured(t *testing.T) {
	root := mustParseTest(t, "https://example.com/page")
	rt, err := newRouter(root, []string{"*"}, nil)
	require.NoError(t, err)

	dec := rt.route("https://example.com/preload.js", network.ResourceTypeScript, true)
	require.False(t, dec.capture)
	require.False(t, dec.abort)
}
