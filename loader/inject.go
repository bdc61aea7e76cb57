package loader

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hazyhaar/brandpush/render"
)

// ScriptElementID identifies the injected script element, both for the
// at-most-once check and for the keeper's repair anchor.
const ScriptElementID = "brandpush_app_bundle"

// ConfigGlobal is the page global holding the fetched config document.
const ConfigGlobal = "BRANDPUSH_CONFIG"

// ScriptSrc builds the bundle reference: the locator from the document, with
// a time-based cache-defeating query parameter iff the document asks for one.
func ScriptSrc(doc *ConfigDocument, now time.Time) string {
	if doc.CacheBuster {
		return doc.BundleURL + "?v=" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	return doc.BundleURL
}

// ExposeConfigScript returns a JS function expression that publishes the raw
// config document as a page global. Runs before any injection so the bundle
// can read its config synchronously.
func ExposeConfigScript(doc *ConfigDocument) string {
	return fmt.Sprintf(`() => { window.%s = %s; }`, ConfigGlobal, string(doc.Raw))
}

// InjectScript returns a JS function expression that inserts exactly one
// deferred script element for src. Re-evaluation is a no-op when the element
// already exists. Load success and failure are reported asynchronously via
// the element's callbacks.
func InjectScript(src string) string {
	esc := render.EscapeJSString(src)
	return fmt.Sprintf(`() => {
  if (document.getElementById(%q)) return "present";
  var s = document.createElement("script");
  s.id = %q;
  s.src = "%s";
  s.defer = true;
  s.onload = function () { try { console.log("[brandpush] bundle loaded"); } catch (e) {} };
  s.onerror = function () { try { console.error("[brandpush] bundle failed:", s.src); } catch (e) {} };
  window.__BRANDPUSH_SRC__ = s.src;
  document.head.appendChild(s);
  return "injected";
}`, ScriptElementID, ScriptElementID, esc)
}

// KeeperScript returns a JS function expression installing a level-triggered
// repair loop: on every DOM mutation it checks the anchor element and
// re-creates it from the recorded src if some host-page script removed it.
// The observer disconnects itself after lifetime, which is explicit
// configuration rather than an embedded constant.
func KeeperScript(anchorID string, lifetime time.Duration) string {
	return fmt.Sprintf(`() => {
  if (window.__BRANDPUSH_KEEPER__) return;
  window.__BRANDPUSH_KEEPER__ = true;
  var repair = function () {
    if (document.getElementById(%q)) return;
    if (!window.__BRANDPUSH_SRC__) return;
    var s = document.createElement("script");
    s.id = %q;
    s.src = window.__BRANDPUSH_SRC__;
    s.defer = true;
    document.head.appendChild(s);
  };
  var obs = new MutationObserver(repair);
  obs.observe(document.documentElement, { childList: true, subtree: true });
  setTimeout(function () { obs.disconnect(); }, %d);
}`, anchorID, anchorID, lifetime.Milliseconds())
}
