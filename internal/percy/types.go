// Package percy defines the data model shared across the core: snapshots,
// resources, builds and their lifecycle states. Nothing in this package
// drives I/O; it is the vocabulary the other packages operate on.
package percy

import "time"

// SnapshotState is the lifecycle state of a Snapshot.
type SnapshotState string

const (
	SnapshotPending     SnapshotState = "pending"
	SnapshotDiscovering SnapshotState = "discovering"
	SnapshotUploading   SnapshotState = "uploading"
	SnapshotComplete    SnapshotState = "complete"
	SnapshotFailed      SnapshotState = "failed"
)

// MaxResourceSize is the maximum content length, in bytes, that a captured
// resource may have before it is dropped.
const MaxResourceSize = 15 * 1024 * 1024

// DefaultMinHeight is applied when a Snapshot omits MinHeight.
const DefaultMinHeight = 1024

// MaxMinHeight bounds both the Snapshot.MinHeight field and individual
// widths.
const MaxMinHeight = 2000

// Snapshot is one visual capture request.
type Snapshot struct {
	Name             string            `json:"name"`
	URL              string            `json:"url"`
	Widths           []int             `json:"widths"`
	MinHeight        int               `json:"minHeight,omitempty"`
	RequestHeaders   map[string]string `json:"requestHeaders,omitempty"`
	ClientInfo       string            `json:"clientInfo,omitempty"`
	EnvironmentInfo  string            `json:"environmentInfo,omitempty"`
	DOMSnapshot      string            `json:"domSnapshot,omitempty"`
	EnableJavaScript *bool             `json:"enableJavaScript,omitempty"`

	// Concurrent controls whether POST /percy/snapshot returns immediately
	// (true, the default) or waits for discovery + upload to finish.
	Concurrent *bool `json:"concurrent,omitempty"`

	State SnapshotState `json:"-"`
}

// HasDOMSnapshot reports whether the snapshot carries a pre-serialized DOM.
func (s *Snapshot) HasDOMSnapshot() bool {
	return s.DOMSnapshot != ""
}

// JavaScriptEnabled resolves the EnableJavaScript default: false when a
// domSnapshot is present, true otherwise.
func (s *Snapshot) JavaScriptEnabled() bool {
	if s.EnableJavaScript != nil {
		return *s.EnableJavaScript
	}
	return !s.HasDOMSnapshot()
}

// IsConcurrent resolves the Concurrent default of true.
func (s *Snapshot) IsConcurrent() bool {
	if s.Concurrent != nil {
		return *s.Concurrent
	}
	return true
}

// EffectiveMinHeight resolves the MinHeight default of 1024.
func (s *Snapshot) EffectiveMinHeight() int {
	if s.MinHeight == 0 {
		return DefaultMinHeight
	}
	return s.MinHeight
}

// Resource is a single captured artefact belonging to a Snapshot.
type Resource struct {
	URL       string `json:"resourceUrl"`
	Content   []byte `json:"-"`
	Mimetype  string `json:"mimetype"`
	SHA       string `json:"id"`
	Root      bool   `json:"isRoot"`
	ForWidths []int  `json:"forWidths"`
}

// AcceptedMimetypePrefixes are mimetype families that may be captured as
// non-root resources.
var AcceptedMimetypePrefixes = []string{
	"text/",
	"image/",
	"font/",
	"application/javascript",
	"application/json",
	"application/octet-stream",
}

// Build is the opaque handle returned by the remote API on PercyCore start.
type Build struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// ResponseCacheEntry is a single cached response body, keyed by URL.
type ResponseCacheEntry struct {
	SHA             string
	Mimetype        string
	Content         []byte
	ResponseHeaders map[string]string
}

// Clock is a wall-clock source that time.Now satisfies. No component of the
// core takes a Clock; code that needs the time calls time.Now directly.
type Clock func() time.Time
