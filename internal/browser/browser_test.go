package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestChromeArgsExtendsChromedpDefaults(t *testing.T) {
	args := chromeArgs()
	require.Greater(t, len(args), len(chromedp.DefaultExecAllocatorOptions))
}

func TestControllerCloseIsIdempotentBeforeLaunch(t *testing.T) {
	c := New(zerolog.Nop())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
