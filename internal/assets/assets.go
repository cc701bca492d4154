// Package assets embeds the static payloads ControlServer serves directly,
// grounded on the general "serve an embedded asset" pattern used by Go CLIs
// that ship small static files alongside their binary (the teacher has no
// static-asset endpoint of its own to generalise from).
package assets

import _ "embed"

// DOMScript is the bundled DOM-serialization script served at
// GET /percy/dom.js.
//go:embed dom.js
var DOMScript []byte
