package percy

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateSnapshot checks a decoded Snapshot payload against the schema
// invariants: required fields, width bounds and uniqueness, minHeight
// bounds. It does not mutate s.
func ValidateSnapshot(s *Snapshot) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrSnapshotValidation)
	}
	if s.URL == "" {
		return fmt.Errorf("%w: url is required", ErrSnapshotValidation)
	}
	u, err := url.Parse(s.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrSnapshotValidation)
	}
	if len(s.Widths) == 0 {
		return fmt.Errorf("%w: widths must not be empty", ErrSnapshotValidation)
	}

	seen := make(map[int]struct{}, len(s.Widths))
	for _, w := range s.Widths {
		if w <= 0 || w > MaxMinHeight {
			return fmt.Errorf("%w: width %d out of range [1, %d]", ErrSnapshotValidation, w, MaxMinHeight)
		}
		if _, dup := seen[w]; dup {
			return fmt.Errorf("%w: duplicate width %d", ErrSnapshotValidation, w)
		}
		seen[w] = struct{}{}
	}

	if s.MinHeight != 0 && (s.MinHeight < 0 || s.MinHeight > MaxMinHeight) {
		return fmt.Errorf("%w: minHeight %d out of range [1, %d]", ErrSnapshotValidation, s.MinHeight, MaxMinHeight)
	}

	return nil
}

// ValidateHostnamePatterns rejects empty-string glob patterns. The upstream
// behaviour when allowedHostnames contains an empty string is to match no
// hostnames at all, which is surprising; we make it an explicit config
// error instead (see Open Question in the design notes).
func ValidateHostnamePatterns(patterns []string) error {
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: hostname pattern must not be empty", ErrConfigValidation)
		}
	}
	return nil
}

// AcceptedMimetype reports whether mimetype belongs to the set of resource
// mimetypes the discoverer is allowed to capture for a non-root resource.
func AcceptedMimetype(mimetype string) bool {
	for _, prefix := range AcceptedMimetypePrefixes {
		if strings.HasPrefix(mimetype, prefix) {
			return true
		}
	}
	return false
}
