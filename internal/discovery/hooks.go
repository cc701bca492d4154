package discovery

import "github.com/percyio/percy-core/internal/percy"

// Hooks lets a caller observe discovery-internal events without reaching
// into discoverer state (spec §9, Design Note "prototype patching in
// tests"). Production code passes a zero-value Hooks; tests inject one that
// records calls or forces faults.
type Hooks struct {
	// OnRequest fires for every intercepted request, after routing.
	OnRequest func(width int, url string, captured bool)

	// OnResourceSkipped fires when a captured response is dropped for size
	// or mimetype reasons.
	OnResourceSkipped func(width int, url, reason string)

	// OnResourceCaptured fires when a Resource is added to the dedup map.
	OnResourceCaptured func(width int, resource percy.Resource)

	// OnRequestError fires for per-request errors that are logged and
	// swallowed rather than failing the snapshot.
	OnRequestError func(width int, url string, err error)
}

func (h Hooks) request(width int, url string, captured bool) {
	if h.OnRequest != nil {
		h.OnRequest(width, url, captured)
	}
}

func (h Hooks) skipped(width int, url, reason string) {
	if h.OnResourceSkipped != nil {
		h.OnResourceSkipped(width, url, reason)
	}
}

func (h Hooks) captured(width int, r percy.Resource) {
	if h.OnResourceCaptured != nil {
		h.OnResourceCaptured(width, r)
	}
}

func (h Hooks) requestError(width int, url string, err error) {
	if h.OnRequestError != nil {
		h.OnRequestError(width, url, err)
	}
}
