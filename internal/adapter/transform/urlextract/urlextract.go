// Package urlextract implements the URL extractor transformer (spec
// §4.5): it scans FluentdRecord and DownloadedBlob payloads for embedded
// URLs and emits a URLRef per unique match.
package urlextract

import (
	"context"
	"net/url"
	"regexp"

	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

// urlPattern matches a bare URL up to the first delimiter that plausibly
// terminates it in free-form log text (whitespace, quoting, percent-encoded
// variants of the same). Preserved verbatim from the source implementation
// per spec §9 — not "fixed" despite the asymmetric percent-decoding rule
// below.
const urlPatternSrc = `(https?(?::|%3A)(?:/|%2F)(?:/|%2F).*?)(?:\+|\s|%20|;|%3b|"|%22|'|%27|$)`

var urlPattern = regexp.MustCompile(urlPatternSrc)

// fieldsByFluentdType names the FluentdRecord fields searched per record
// type. A type absent from this table yields no URLs.
var fieldsByFluentdType = map[string][]string{
	"cowrie":       {"input"},
	"glastopf":     {"http_body"},
	"echo_and_log": {"data_ascii"},
}

// Transformer is the URL extractor reemitter.
type Transformer struct{}

// New constructs a url_extractor transformer; it takes no kwargs.
func New(map[string]any) (module.Transformer, error) {
	return Transformer{}, nil
}

func init() {
	if err := registry.RegisterTransformer("url_extractor", func(kwargs map[string]any) (module.Transformer, error) {
		return New(kwargs)
	}); err != nil {
		panic(err)
	}
}

// Accepts reports whether o is a FluentdRecord or a DownloadedBlob.
func (Transformer) Accepts(o object.Object) bool {
	switch o.Kind() {
	case object.KindFluentdRecord, object.KindDownloadedBlob:
		return true
	default:
		return false
	}
}

// Handle extracts every unique URL found in the input and emits one
// URLRef per match.
func (Transformer) Handle(_ context.Context, in object.Object) []object.Object {
	var urls map[string]struct{}

	switch v := in.(type) {
	case *object.FluentdRecord:
		urls = findInFluentdRecord(v)
	case *object.DownloadedBlob:
		urls = findInBytes(v.Data)
	default:
		return nil
	}

	out := make([]object.Object, 0, len(urls))
	for u := range urls {
		out = append(out, &object.URLRef{URL: u})
	}
	return out
}

func findInFluentdRecord(r *object.FluentdRecord) map[string]struct{} {
	fields, ok := fieldsByFluentdType[r.Type]
	urls := map[string]struct{}{}
	if !ok {
		return urls
	}
	for _, field := range fields {
		v, ok := r.Fields[field]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		for u := range findInString(s) {
			urls[u] = struct{}{}
		}
	}
	return urls
}

// findInString runs urlPattern over s, applying the percent-decoding
// fix-up only when the match has no literal "://" — the exact rule the
// source implements (spec §9 flags this asymmetry but preserves it).
func findInString(s string) map[string]struct{} {
	matches := urlPattern.FindAllStringSubmatch(s, -1)
	urls := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		urls[unquoteIfNoScheme(m[1])] = struct{}{}
	}
	return urls
}

func findInBytes(data []byte) map[string]struct{} {
	return findInString(string(data))
}

func unquoteIfNoScheme(s string) string {
	if containsScheme(s) {
		return s
	}
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	return s
}

func containsScheme(s string) bool {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == ':' && s[i+1] == '/' && s[i+2] == '/' {
			return true
		}
	}
	return false
}
