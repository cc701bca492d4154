// Package discovery drives the browser across a snapshot's widths,
// intercepts requests, applies routing/filtering rules, fetches bodies, and
// deduplicates the resulting resources (spec §4.3). Discoverer is stateless
// between snapshots; each Run invocation borrows a BrowserController and a
// ResponseCache.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/rs/zerolog"

	"github.com/percyio/percy-core/internal/browser"
	"github.com/percyio/percy-core/internal/cache"
	"github.com/percyio/percy-core/internal/percy"
)

// Config bundles the per-run knobs the discoverer needs. It is a narrowed,
// independent view of config.DiscoveryConfig so this package has no
// dependency on the config loader.
type Config struct {
	AllowedHostnames    []string
	DisallowedHostnames []string
	NetworkIdleTimeout  time.Duration
	TmpDir              string
}

// Discoverer runs asset discovery for one snapshot at a time. It holds no
// per-snapshot state between calls to Run.
type Discoverer struct {
	browser *browser.Controller
	cache   *cache.ResponseCache
	log     zerolog.Logger
	hooks   Hooks
}

// New creates a Discoverer borrowing browserCtl and respCache, which are
// owned by (and shared across all discovery jobs of) PercyCore.
func New(browserCtl *browser.Controller, respCache *cache.ResponseCache, log zerolog.Logger, hooks Hooks) *Discoverer {
	return &Discoverer{
		browser: browserCtl,
		cache:   respCache,
		log:     log.With().Str("component", "discovery").Logger(),
		hooks:   hooks,
	}
}

// pendingRequest tracks a request between interception and completion.
type pendingRequest struct {
	url      string
	decision decision
}

// Run performs discovery across every width of snap, in order, and returns
// the deduplicated resource list: root first, then ascending sha (spec §9,
// Open Question — ordering of resources in the API payload).
func (d *Discoverer) Run(ctx context.Context, snap *percy.Snapshot, cfg Config) ([]percy.Resource, error) {
	rootURL, err := url.Parse(snap.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid root URL: %v", percy.ErrSnapshotDiscovery, err)
	}

	rt, err := newRouter(rootURL, cfg.AllowedHostnames, cfg.DisallowedHostnames)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hostname pattern: %v", percy.ErrSnapshotDiscovery, err)
	}

	ts, err := newTempStore(cfg.TmpDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", percy.ErrSnapshotDiscovery, err)
	}
	defer ts.Cleanup()

	dedup := newDedupSet()

	for _, width := range snap.Widths {
		if err := d.runWidth(ctx, snap, width, rt, cfg, ts, dedup); err != nil {
			return nil, err
		}
	}

	return dedup.ordered(), nil
}

func (d *Discoverer) runWidth(
	ctx context.Context,
	snap *percy.Snapshot,
	width int,
	rt *router,
	cfg Config,
	ts *tempStore,
	dedup *dedupSet,
) error {
	idleTimeout := cfg.NetworkIdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 100 * time.Millisecond
	}

	idle := newIdleWaiter(idleTimeout)

	var mu sync.Mutex
	pending := make(map[network.RequestID]pendingRequest)
	var page *browser.Page

	intercept := browser.Intercept{
		OnRequest: func(req browser.InterceptedRequest) browser.Decision {
			isPrefetch := req.ResourceType == network.ResourceTypePrefetch
			dec := rt.route(req.URL, req.ResourceType, isPrefetch)

			mu.Lock()
			pending[network.RequestID(req.RequestID)] = pendingRequest{url: req.URL, decision: dec}
			mu.Unlock()

			idle.requestStarted()
			d.hooks.request(width, req.URL, dec.capture)

			if dec.abort {
				return browser.Decision{Action: browser.Abort}
			}
			if dec.isRoot && snap.HasDOMSnapshot() {
				return browser.Decision{
					Action:      browser.Fulfill,
					FulfillBody: []byte(snap.DOMSnapshot),
					FulfillMime: "text/html",
				}
			}
			return browser.Decision{Action: browser.Continue}
		},
		OnResponse: func(resp browser.ResponseEvent) {
			mu.Lock()
			pr, ok := pending[resp.RequestID]
			mu.Unlock()
			if !ok || !pr.decision.capture {
				return
			}
			d.captureResponse(ctx, page, snap, width, resp, ts, dedup)
		},
		OnFinished: func(ev browser.FinishedEvent) {
			mu.Lock()
			pr, ok := pending[ev.RequestID]
			delete(pending, ev.RequestID)
			mu.Unlock()

			idle.requestFinished()

			if ok && ev.Failed && pr.decision.capture {
				d.hooks.requestError(width, pr.url, fmt.Errorf("request failed"))
				d.log.Debug().Str("url", pr.url).Msg("sub-resource request failed")
			}
		},
	}

	opened, err := d.browser.Page(ctx, browser.Options{
		Width:              int64(width),
		Height:             int64(snap.EffectiveMinHeight()),
		RequestHeaders:     snap.RequestHeaders,
		NetworkIdleTimeout: idleTimeout,
		EnableJavaScript:   snap.JavaScriptEnabled(),
		Intercept:          intercept,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", percy.ErrSnapshotDiscovery, err)
	}
	page = opened
	defer page.Close()

	if err := page.Goto(ctx, snap.URL); err != nil {
		return fmt.Errorf("%w: %v", percy.ErrSnapshotDiscovery, err)
	}

	if snap.HasDOMSnapshot() {
		if _, err := page.Evaluate(ctx, rewriteDocumentJS(snap.DOMSnapshot)); err != nil {
			d.log.Debug().Err(err).Msg("failed to rewrite document with DOM snapshot")
		}
	}

	idle.wait(ctx)

	return nil
}

// captureResponse resolves a response body via the cache, falling back to
// Network.getResponseBody over the protocol on a miss (spec §4.2,
// cache-then-protocol fallback), validates it against the size/mimetype
// invariants, writes it to the temp store, and merges it into the
// snapshot-wide dedup set.
func (d *Discoverer) captureResponse(ctx context.Context, page *browser.Page, snap *percy.Snapshot, width int, resp browser.ResponseEvent, ts *tempStore, dedup *dedupSet) {
	entry, hit := d.cache.Get(resp.URL)
	if !hit {
		body, err := page.FetchResponseBody(ctx, resp.RequestID)
		if err != nil {
			d.hooks.requestError(width, resp.URL, err)
			d.log.Debug().Err(err).Str("url", resp.URL).Msg("failed to fetch response body")
			return
		}
		entry = percy.ResponseCacheEntry{Content: body, Mimetype: resp.MimeType}
		d.cache.Put(resp.URL, entry)
	}

	if len(entry.Content) > percy.MaxResourceSize {
		d.hooks.skipped(width, resp.URL, "Max file size exceeded")
		d.log.Debug().Str("url", resp.URL).Int("bytes", len(entry.Content)).Msg("Skipping - Max file size exceeded")
		return
	}

	isRoot := sameURL(mustParse(resp.URL), mustParse(snap.URL))
	if !isRoot && !percy.AcceptedMimetype(entry.Mimetype) {
		d.hooks.skipped(width, resp.URL, "unsupported mimetype")
		return
	}

	sha := sha256Hex(entry.Content)
	if _, err := ts.Write(sha, entry.Content); err != nil {
		d.log.Debug().Err(err).Str("sha", sha).Msg("failed to write resource to temp store")
		return
	}

	res := percy.Resource{
		URL:       resp.URL,
		Content:   entry.Content,
		Mimetype:  entry.Mimetype,
		SHA:       sha,
		Root:      isRoot,
		ForWidths: []int{width},
	}
	dedup.add(res)
	d.hooks.captured(width, res)
}

func sha256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func mustParse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// rewriteDocumentJS builds the script used to replace the live document
// with a serialized DOM snapshot, per spec §4.3 step 2.
func rewriteDocumentJS(dom string) string {
	return fmt.Sprintf(`(() => {
  document.open();
  document.write(%q);
  document.close();
})()`, dom)
}

// dedupSet accumulates resources across widths, merging ForWidths for
// repeated sha hits and enforcing the (snapshot, sha) uniqueness invariant.
type dedupSet struct {
	mu    sync.Mutex
	bySha map[string]*percy.Resource
	order []string
}

func newDedupSet() *dedupSet {
	return &dedupSet{bySha: make(map[string]*percy.Resource)}
}

func (d *dedupSet) add(r percy.Resource) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.bySha[r.SHA]; ok {
		existing.ForWidths = mergeWidths(existing.ForWidths, r.ForWidths)
		return
	}

	copyRes := r
	d.bySha[r.SHA] = &copyRes
	d.order = append(d.order, r.SHA)
}

// ordered returns resources root first, then ascending sha.
func (d *dedupSet) ordered() []percy.Resource {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]percy.Resource, 0, len(d.order))
	for _, sha := range d.order {
		out = append(out, *d.bySha[sha])
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Root != out[j].Root {
			return out[i].Root
		}
		return out[i].SHA < out[j].SHA
	})
	return out
}

func mergeWidths(a, b []int) []int {
	seen := make(map[int]struct{}, len(a))
	for _, w := range a {
		seen[w] = struct{}{}
	}
	for _, w := range b {
		if _, ok := seen[w]; !ok {
			a = append(a, w)
			seen[w] = struct{}{}
		}
	}
	return a
}
