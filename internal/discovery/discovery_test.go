package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/percyio/percy-core/internal/percy"
)

func TestDedupSetMergesForWidthsOnRepeatedSha(t *testing.T) {
	d := newDedupSet()
	d.add(percy.Resource{URL: "https://example.com/a.js", SHA: "sha-a", ForWidths: []int{375}})
	d.add(percy.Resource{URL: "https://example.com/a.js", SHA: "sha-a", ForWidths: []int{1280}})

	out := d.ordered()
	require.Len(t, out, 1)
	require.ElementsMatch(t, []int{375, 1280}, out[0].ForWidths)
}

func TestDedupSetOrdersRootFirstThenAscendingSha(t *testing.T) {
	d := newDedupSet()
	d.add(percy.Resource{SHA: "zzz", ForWidths: []int{375}})
	d.add(percy.Resource{SHA: "aaa", Root: true, ForWidths: []int{375}})
	d.add(percy.Resource{SHA: "bbb", ForWidths: []int{375}})

	out := d.ordered()
	require.Len(t, out, 3)
	require.True(t, out[0].Root)
	require.Equal(t, "aaa", out[0].SHA)
	require.Equal(t, "bbb", out[1].SHA)
	require.Equal(t, "zzz", out[2].SHA)
}

func TestSha256HexIsStableAndContentAddressed(t *testing.T) {
	a := sha256Hex([]byte("hello"))
	b := sha256Hex([]byte("hello"))
	c := sha256Hex([]byte("world"))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func TestRewriteDocumentJSEscapesDOMContent(t *testing.T) {
	js := rewriteDocumentJS(`<html>"quoted"</html>`)
	require.Contains(t, js, "document.open()")
	require.Contains(t, js, "document.write(")
	require.Contains(t, js, `<html>\"quoted\"</html>`)
}
