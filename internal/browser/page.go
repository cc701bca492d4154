package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/percyio/percy-core/internal/percy"
)

// Action is the synchronous decision an InterceptFunc returns for a single
// intercepted request (spec §4.1, Design Note "dynamic request hook").
type Action int

const (
	// Continue lets the request proceed unmodified.
	Continue Action = iota
	// Abort fails the request at the network layer without contacting the
	// origin.
	Abort
	// Fulfill serves a synthetic response from FulfillBody/FulfillMimetype
	// instead of letting the request reach the network.
	Fulfill
)

// InterceptedRequest describes a single paused request delivered to the
// intercept hook.
type InterceptedRequest struct {
	RequestID    fetch.RequestID
	URL          string
	ResourceType network.ResourceType
	IsRedirect   bool
}

// Decision is returned by an InterceptFunc for a single InterceptedRequest.
type Decision struct {
	Action        Action
	FulfillBody   []byte
	FulfillMime   string
	FulfillStatus int64
}

// FinishedEvent describes a request that completed (succeeded or failed)
// after being allowed to continue.
type FinishedEvent struct {
	RequestID network.RequestID
	Failed    bool
}

// ResponseEvent carries the response metadata needed to decide whether a
// captured request's body is worth fetching, delivered before FinishedEvent
// for the same request.
type ResponseEvent struct {
	RequestID network.RequestID
	URL       string
	MimeType  string
	Status    int64
	Headers   map[string]string
}

// Intercept is invoked synchronously for every paused request, every
// response received, and every request-finished/failed event on the page.
type Intercept struct {
	OnRequest  func(InterceptedRequest) Decision
	OnResponse func(ResponseEvent)
	OnFinished func(FinishedEvent)
}

// Options controls how a Page is opened.
type Options struct {
	Width              int64
	Height             int64
	RequestHeaders     map[string]string
	NetworkIdleTimeout time.Duration
	EnableJavaScript   bool
	Intercept          Intercept
}

// Page is a scoped browser tab. It is owned by the discovery invocation that
// created it and must be closed on every exit path.
type Page struct {
	ctrl   *Controller
	ctx    context.Context
	cancel context.CancelFunc

	navigationTimeout time.Duration
	idleTimeout       time.Duration
}

// Page opens a new target and installs request interception per opts.
func (c *Controller) Page(ctx context.Context, opts Options) (*Page, error) {
	c.mu.Lock()
	browserCtx := c.browserCtx
	c.mu.Unlock()

	if browserCtx == nil {
		return nil, fmt.Errorf("%w: browser not launched", percy.ErrBrowserLaunch)
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)

	idleTimeout := opts.NetworkIdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 100 * time.Millisecond
	}

	p := &Page{
		ctrl:              c,
		ctx:               tabCtx,
		cancel:            cancel,
		navigationTimeout: 30 * time.Second,
		idleTimeout:       idleTimeout,
	}

	if err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(opts.Width, opts.Height),
		network.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", percy.ErrBrowserLaunch, err)
	}

	if !opts.EnableJavaScript {
		if err := chromedp.Run(tabCtx, page.SetScriptExecutionDisabled(true)); err != nil {
			c.log.Debug().Err(err).Msg("failed to disable script execution")
		}
	}

	if len(opts.RequestHeaders) > 0 {
		headers := make(network.Headers, len(opts.RequestHeaders))
		for k, v := range opts.RequestHeaders {
			headers[k] = v
		}
		if err := chromedp.Run(tabCtx, network.SetExtraHTTPHeaders(headers)); err != nil {
			c.log.Debug().Err(err).Msg("failed to set extra headers")
		}
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			handlePaused(tabCtx, e, opts.Intercept)
		case *network.EventResponseReceived:
			if opts.Intercept.OnResponse != nil {
				opts.Intercept.OnResponse(ResponseEvent{
					RequestID: e.RequestID,
					URL:       e.Response.URL,
					MimeType:  e.Response.MimeType,
					Status:    e.Response.Status,
					Headers:   headersToMap(e.Response.Headers),
				})
			}
		case *network.EventLoadingFinished:
			if opts.Intercept.OnFinished != nil {
				opts.Intercept.OnFinished(FinishedEvent{RequestID: e.RequestID})
			}
		case *network.EventLoadingFailed:
			if opts.Intercept.OnFinished != nil {
				opts.Intercept.OnFinished(FinishedEvent{RequestID: e.RequestID, Failed: true})
			}
		}
	})

	c.trackPage(p)
	return p, nil
}

func handlePaused(ctx context.Context, e *fetch.EventRequestPaused, intercept Intercept) {
	if intercept.OnRequest == nil {
		_ = chromedp.Run(ctx, fetch.ContinueRequest(e.RequestID))
		return
	}

	decision := intercept.OnRequest(InterceptedRequest{
		RequestID:    e.RequestID,
		URL:          e.Request.URL,
		ResourceType: e.ResourceType,
		IsRedirect:   e.RedirectedRequestID != "",
	})

	switch decision.Action {
	case Abort:
		_ = chromedp.Run(ctx, fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient))
	case Fulfill:
		status := decision.FulfillStatus
		if status == 0 {
			status = 200
		}
		req := fetch.FulfillRequest(e.RequestID, status).
			WithResponseHeaders([]*fetch.HeaderEntry{
				{Name: "content-type", Value: decision.FulfillMime},
			}).
			WithBody(encodeBody(decision.FulfillBody))
		_ = chromedp.Run(ctx, req)
	default:
		_ = chromedp.Run(ctx, fetch.ContinueRequest(e.RequestID))
	}
}

// Goto navigates to url and waits until the document body is ready. It does
// not wait for network idle; the discoverer waits for that separately after
// Goto returns.
func (p *Page) Goto(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(p.ctx, p.navigationTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: navigation to %s timed out", percy.ErrNavigation, url)
		}
		return fmt.Errorf("%w: %v", percy.ErrNavigation, err)
	}
	return nil
}

// Evaluate runs js in the page context and returns the raw result. Used only
// to inject a serialized DOM via document.open/write/close (spec §4.3).
func (p *Page) Evaluate(ctx context.Context, js string) (any, error) {
	var result any
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(js, &result)); err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

// FetchResponseBody retrieves the body for a request already observed via
// the interception hook, using Network.getResponseBody. The protocol
// returns binary bodies (images, fonts, etc.) as base64-encoded text with
// base64Encoded set, and must be decoded before use.
func (p *Page) FetchResponseBody(ctx context.Context, requestID network.RequestID) ([]byte, error) {
	var body []byte
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, base64Encoded, err := network.GetResponseBody(requestID).Do(ctx)
		if err != nil {
			return err
		}
		if base64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(string(data))
			if err != nil {
				return fmt.Errorf("decode base64 response body: %w", err)
			}
			body = decoded
			return nil
		}
		body = data
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Close releases the target. Idempotent.
func (p *Page) Close() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.cancel = nil
	if p.ctrl != nil {
		p.ctrl.untrackPage(p)
	}
	return nil
}

func encodeBody(body []byte) string {
	return base64.StdEncoding.EncodeToString(body)
}

func headersToMap(headers network.Headers) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range map[string]any(headers) {
		out[k] = fmt.Sprint(v)
	}
	return out
}
