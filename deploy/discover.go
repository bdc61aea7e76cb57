package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/brandpush/platform"
)

// RuntimeContext is what discovery extracts from the admin brand-configs
// page: the active content identifier, the full current theme state, and the
// shared theme records one of which will be repointed at the end.
type RuntimeContext struct {
	ActiveMD5    string
	State        platform.ThemeState
	SharedThemes []platform.SharedTheme
}

// ContextSource produces a RuntimeContext. The production implementation
// reads the admin page over the ambient session; tests inject fixtures.
type ContextSource interface {
	RuntimeContext(ctx context.Context) (*RuntimeContext, error)
}

// PageSource fetches the admin brand-configs page and parses its inline ENV
// object. The page is the same one a human would run the workflow from, so
// reading it guards against operating on the wrong account.
type PageSource struct {
	url    string
	cookie string
	client *http.Client
}

// NewPageSource creates a PageSource for the given platform origin and
// account, authenticated by the ambient session cookie.
func NewPageSource(baseURL, accountID, cookie string, timeout time.Duration) *PageSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PageSource{
		url:    fmt.Sprintf("%s/accounts/%s/brand_configs", strings.TrimRight(baseURL, "/"), accountID),
		cookie: cookie,
		client: &http.Client{Timeout: timeout},
	}
}

// RuntimeContext implements ContextSource.
func (s *PageSource) RuntimeContext(ctx context.Context) (*RuntimeContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &DiscoveryError{Reason: fmt.Sprintf("build request: %v", err)}
	}
	if s.cookie != "" {
		req.Header.Set("Cookie", s.cookie)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &DiscoveryError{Reason: fmt.Sprintf("fetch admin page: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DiscoveryError{Reason: fmt.Sprintf("admin page returned http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &DiscoveryError{Reason: fmt.Sprintf("read admin page: %v", err)}
	}
	return ParseRuntimeContext(body)
}

// ParseRuntimeContext extracts the inline `ENV = {...}` object from the
// admin page and decodes the fields the workflow needs. The HTML is walked
// properly instead of regexed: the ENV assignment sits in one of several
// inline script elements.
func ParseRuntimeContext(page []byte) (*RuntimeContext, error) {
	envJSON, err := extractENV(page)
	if err != nil {
		return nil, err
	}

	var env struct {
		ActiveBrandConfig *struct {
			MD5                string         `json:"md5"`
			Variables          map[string]any `json:"variables"`
			CSSOverrides       string         `json:"css_overrides"`
			MobileJSOverrides  string         `json:"mobile_js_overrides"`
			MobileCSSOverrides string         `json:"mobile_css_overrides"`
		} `json:"active_brand_config"`
		BrandConfigStuff *struct {
			SharedBrandConfigs []platform.SharedTheme `json:"sharedBrandConfigs"`
		} `json:"brandConfigStuff"`
	}
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return nil, &DiscoveryError{Reason: fmt.Sprintf("decode ENV: %v", err)}
	}

	if env.ActiveBrandConfig == nil || env.ActiveBrandConfig.MD5 == "" {
		return nil, &DiscoveryError{Reason: "no active_brand_config.md5; run against the account's brand-configs context"}
	}
	if env.BrandConfigStuff == nil || env.BrandConfigStuff.SharedBrandConfigs == nil {
		return nil, &DiscoveryError{Reason: "no brandConfigStuff.sharedBrandConfigs in page ENV"}
	}

	rc := &RuntimeContext{
		ActiveMD5:    env.ActiveBrandConfig.MD5,
		SharedThemes: env.BrandConfigStuff.SharedBrandConfigs,
	}

	if env.ActiveBrandConfig.Variables != nil {
		vars := make(map[string]string, len(env.ActiveBrandConfig.Variables))
		for k, v := range env.ActiveBrandConfig.Variables {
			vars[k] = stringifyVariable(v)
		}
		rc.State = platform.ThemeState{
			Variables:          vars,
			CSSOverrides:       env.ActiveBrandConfig.CSSOverrides,
			MobileJSOverrides:  env.ActiveBrandConfig.MobileJSOverrides,
			MobileCSSOverrides: env.ActiveBrandConfig.MobileCSSOverrides,
		}
	}
	return rc, nil
}

// MatchSharedTheme finds the shared record whose content identifier equals
// the active one. No match is a DiscoveryError: repointing an arbitrary
// record would publish the asset under the wrong theme.
func MatchSharedTheme(rc *RuntimeContext) (*platform.SharedTheme, error) {
	for i := range rc.SharedThemes {
		if rc.SharedThemes[i].MatchesMD5(rc.ActiveMD5) {
			return &rc.SharedThemes[i], nil
		}
	}
	return nil, &DiscoveryError{Reason: "active md5 matches no shared brand config", ActiveMD5: rc.ActiveMD5}
}

// extractENV finds the inline script assigning ENV and returns the balanced
// object literal that follows the assignment.
func extractENV(page []byte) (json.RawMessage, error) {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil, &DiscoveryError{Reason: fmt.Sprintf("parse admin page html: %v", err)}
	}

	var envJSON json.RawMessage
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if envJSON != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Script && n.FirstChild != nil {
			if raw, ok := envObjectLiteral(n.FirstChild.Data); ok {
				envJSON = raw
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if envJSON == nil {
		return nil, &DiscoveryError{Reason: "no ENV assignment found in page"}
	}
	return envJSON, nil
}

// envObjectLiteral locates `ENV = {` in script text and returns the balanced
// object, tracking string literals and escapes so braces inside values do
// not confuse the scan.
func envObjectLiteral(script string) (json.RawMessage, bool) {
	idx := 0
	for {
		rel := strings.Index(script[idx:], "ENV")
		if rel < 0 {
			return nil, false
		}
		idx += rel + len("ENV")
		rest := strings.TrimLeft(script[idx:], " \t")
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t\r\n")
		if !strings.HasPrefix(rest, "{") {
			continue
		}
		if obj, ok := balancedObject(rest); ok {
			return json.RawMessage(obj), true
		}
		return nil, false
	}
}

func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// stringifyVariable converts a decoded JSON variable value to the string the
// platform's form encoding expects, matching how the theme editor submits
// them: null becomes empty, numbers lose no precision, everything else is
// its JSON text.
func stringifyVariable(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
