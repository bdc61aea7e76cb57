// Package render generates the theme-JS loader asset uploaded to the
// platform. The output is deterministic text: a self-executing script that
// guards against double execution, exposes the operator's config as a page
// global, re-emits preserved operator code between marker comments, and
// injects the remote runtime bundle with a cache-defeating suffix.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Marker comments delimiting the preserved operator code block. A later
// regeneration pass replaces everything outside these markers and must leave
// the block byte-for-byte intact.
const (
	UserCodeBegin = "/* === brandpush:begin user code === */"
	UserCodeEnd   = "/* === brandpush:end user code === */"
)

// BootFlag is the page global that makes the generated loader idempotent
// within one page lifetime.
const BootFlag = "__BRANDPUSH_BOOTSTRAPPED__"

// Params are the renderer inputs.
type Params struct {
	// RuntimeURL locates the remote runtime bundle the loader injects.
	RuntimeURL string
	// Config is the operator-edited configuration embedded verbatim into
	// the loader as a page global. Must be a valid JSON object; key order
	// is preserved as given.
	Config json.RawMessage
	// PreservedCode is operator-owned script text carried through
	// regeneration unchanged. May be empty.
	PreservedCode string
	// GeneratedAt stamps the header comment. Zero means time.Now().
	GeneratedAt time.Time
}

// Render produces the loader text. It fails only on invalid inputs; given
// the same params it always returns the same bytes.
func Render(p Params) (string, error) {
	if strings.TrimSpace(p.RuntimeURL) == "" {
		return "", fmt.Errorf("render: runtime url is required")
	}
	cfg := p.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}
	if !json.Valid(cfg) {
		return "", fmt.Errorf("render: config is not valid JSON")
	}

	// Re-indent without decoding into a map: json.Indent preserves the
	// input key order, a Go map round-trip would not.
	var indented bytes.Buffer
	if err := json.Indent(&indented, cfg, "  ", "  "); err != nil {
		return "", fmt.Errorf("render: indent config: %w", err)
	}

	generated := p.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	preserved := p.PreservedCode
	if strings.TrimSpace(preserved) == "" {
		preserved = "// (none)"
	}

	// The runtime URL may already carry a query string; the cache suffix
	// switches separator accordingly.
	sep := "?"
	if strings.Contains(p.RuntimeURL, "?") {
		sep = "&"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `/**
 * brandpush theme-JS loader
 * Generated: %s
 *
 * Uploaded as the platform's theme JS (js_overrides). Managed sections are
 * regenerated on each deploy; the user code block is carried verbatim.
 */
(function () {
  if (window.%s) return;
  window.%s = true;

  window.BRANDPUSH_CONTEXT = {
    host: location.hostname,
    generatedAt: %q
  };

  window.BRANDPUSH_CONFIG = %s;

  %s
%s
  %s

  var s = document.createElement("script");
  s.src = "%s" + "%s" + "v=" + Date.now();
  s.defer = true;
  s.onload = function () { try { console.log("[brandpush] runtime loaded"); } catch (e) {} };
  s.onerror = function () { try { console.error("[brandpush] runtime failed to load:", s.src); } catch (e) {} };
  document.head.appendChild(s);
})();
`,
		generated.UTC().Format(time.RFC3339),
		BootFlag, BootFlag,
		generated.UTC().Format(time.RFC3339),
		indented.String(),
		UserCodeBegin,
		indentBlock(preserved, 2),
		UserCodeEnd,
		EscapeJSString(p.RuntimeURL),
		sep,
	)
	return b.String(), nil
}

// FileName suggests the upload name for a rendered loader.
func FileName() string { return "loader.js" }

// ExtractPreserved returns the user code block of a previously generated
// loader, without the markers, so regeneration can carry it forward. The
// second return is false when no marker block is present.
func ExtractPreserved(loader string) (string, bool) {
	start := strings.Index(loader, UserCodeBegin)
	if start < 0 {
		return "", false
	}
	rest := loader[start+len(UserCodeBegin):]
	end := strings.Index(rest, UserCodeEnd)
	if end < 0 {
		return "", false
	}
	return strings.Trim(rest[:end], "\n"), true
}

// EscapeJSString escapes backslash and double-quote so s can be embedded in
// a double-quoted JS string literal.
func EscapeJSString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func indentBlock(text string, spaces int) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n")
}
