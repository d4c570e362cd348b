// Package hostpage models the observable state of the storefront page the
// loader runs in. The loader and the identity resolver never touch a live
// document; they consume an immutable Snapshot and re-read through a Reader
// when freshness matters (the sign-out watcher).
package hostpage

import (
	"net/url"
	"strings"
)

// LoaderScriptName is the filename the loader looks for when scanning the
// page's script tags for its own authoritative copy.
const LoaderScriptName = "widget-loader.js"

// ScriptTag is one <script> element observed on the host page.
type ScriptTag struct {
	// Src is the tag's resolved source URL, empty for inline scripts.
	Src string
	// Attrs holds the tag's data-* attributes, keyed without the "data-"
	// prefix ("widget-url", "store-hash", ...).
	Attrs map[string]string
	// Inline is the body of an inline script, used for embedded JSON
	// customer blocks.
	Inline string
	// Current marks the tag the runtime reports as the executing script.
	Current bool
}

// IsLoader reports whether the tag is a copy of the loader script.
func (s ScriptTag) IsLoader() bool {
	if s.Src == "" {
		return false
	}
	u, err := url.Parse(s.Src)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Path, "/"+LoaderScriptName) || u.Path == LoaderScriptName
}

// Query returns the tag's src query parameters, nil when the src is absent
// or unparseable.
func (s ScriptTag) Query() url.Values {
	if s.Src == "" {
		return nil
	}
	u, err := url.Parse(s.Src)
	if err != nil {
		return nil
	}
	return u.Query()
}

// HasStoreParams reports whether the tag's src carries explicit identifying
// parameters. Only such a tag is authoritative when multiple loader copies
// share a page.
func (s ScriptTag) HasStoreParams() bool {
	q := s.Query()
	if q == nil {
		return false
	}
	return q.Get("store_hash") != "" || q.Get("channel_id") != "" || q.Get("app_client_id") != ""
}

// CustomerGlobal is a customer object exposed by a storefront runtime on the
// page's global scope.
type CustomerGlobal struct {
	// Source names the global the object came from ("bc", "window",
	// "stencil", "storefront-config").
	Source string
	ID     string
	Email  string
}

// Snapshot is a point-in-time read of everything on the host page the bridge
// consumes. A zero Snapshot is a blank page.
type Snapshot struct {
	// Origin is the page origin, the key for session-scoped persistence.
	Origin string

	Scripts []ScriptTag

	// CustomerGlobals lists customer objects found on the global scope, in
	// the storefront runtime's precedence order.
	CustomerGlobals []CustomerGlobal

	// DataAttrs holds page-level data-* attributes (body or a marked
	// element), keyed without the "data-" prefix. Some themes expose
	// "customer-id" here.
	DataAttrs map[string]string

	// Override is the page's global configuration override object, highest
	// merge priority. Keys follow the wire config names ("widgetUrl",
	// "storeHash", ...).
	Override map[string]string

	// StorefrontAPIToken is a storefront GraphQL bearer token exposed on
	// the page, empty when the backend must mint one.
	StorefrontAPIToken string

	// CSRFToken is forwarded on same-origin GraphQL calls when present.
	CSRFToken string
}

// LoaderScript picks the authoritative loader tag: a parameterized copy wins
// over the current script, which wins over any other copy.
func (s Snapshot) LoaderScript() (ScriptTag, bool) {
	var current, fallback ScriptTag
	var haveCurrent, haveFallback bool
	for _, tag := range s.Scripts {
		if !tag.IsLoader() {
			continue
		}
		if tag.HasStoreParams() {
			return tag, true
		}
		if tag.Current && !haveCurrent {
			current, haveCurrent = tag, true
		}
		if !haveFallback {
			fallback, haveFallback = tag, true
		}
	}
	if haveCurrent {
		return current, true
	}
	return fallback, haveFallback
}

// InlineJSONBlocks returns the bodies of inline scripts, candidates for the
// embedded-JSON identity strategy.
func (s Snapshot) InlineJSONBlocks() []string {
	var blocks []string
	for _, tag := range s.Scripts {
		if tag.Src == "" && strings.TrimSpace(tag.Inline) != "" {
			blocks = append(blocks, tag.Inline)
		}
	}
	return blocks
}

// Reader supplies fresh page snapshots. The live embedding environment reads
// the document; tests and the harness serve a mutable in-memory page.
type Reader interface {
	Snapshot() Snapshot
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func() Snapshot

func (f ReaderFunc) Snapshot() Snapshot { return f() }
