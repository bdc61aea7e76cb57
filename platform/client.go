package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const acceptJSON = "application/json+canvas-string-ids, application/json"

// Config configures the platform client.
type Config struct {
	// BaseURL is the platform origin, e.g. https://school.instructure.example.
	BaseURL string `yaml:"base_url"`
	// AccountID is the account whose brand configs are managed.
	AccountID string `yaml:"account_id"`
	// Cookie is the ambient session credential, pasted verbatim from an
	// authenticated browser session. It must include the _csrf_token cookie.
	Cookie string `yaml:"cookie"`
	// Timeout applies per request. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`
	// UserAgent sent with requests.
	UserAgent string `yaml:"user_agent"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "brandpush/1.0"
	}
}

// Client issues the platform's three side-effecting calls plus the progress
// read. One instance per workflow invocation; it holds no mutable state.
type Client struct {
	base    *url.URL
	account string
	cookie  string
	csrf    string
	http    *http.Client
	ua      string
	logger  *slog.Logger
}

// New validates the configuration and extracts the CSRF token from the
// session cookie. A missing _csrf_token cookie is a hard error: every write
// endpoint rejects requests without it.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform: base_url is required")
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("platform: account_id is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("platform: parse base_url: %w", err)
	}

	csrf, err := CSRFFromCookie(cfg.Cookie)
	if err != nil {
		return nil, err
	}

	return &Client{
		base:    base,
		account: cfg.AccountID,
		cookie:  cfg.Cookie,
		csrf:    csrf,
		http:    &http.Client{Timeout: cfg.Timeout},
		ua:      cfg.UserAgent,
		logger:  logger,
	}, nil
}

// CSRFFromCookie extracts and URL-decodes the _csrf_token value from a raw
// Cookie header string.
func CSRFFromCookie(cookie string) (string, error) {
	header := http.Header{}
	header.Add("Cookie", cookie)
	req := http.Request{Header: header}
	for _, c := range req.Cookies() {
		if c.Name == "_csrf_token" {
			v, err := url.QueryUnescape(c.Value)
			if err != nil {
				return "", fmt.Errorf("platform: decode _csrf_token: %w", err)
			}
			return v, nil
		}
	}
	return "", fmt.Errorf("platform: no _csrf_token cookie in session credential")
}

// resolve turns a possibly relative platform URL (progress handles are often
// origin-relative) into an absolute one.
func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(u).String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptJSON)
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("X-CSRF-Token", c.csrf)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	return req, nil
}

// multipartBody writes the flat fields plus an optional file part and returns
// the encoded body with its content type.
func multipartBody(fields []Field, fileField, fileName string, fileContent []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", err
		}
	}
	if fileField != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, fileName))
		h.Set("Content-Type", "text/javascript")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(fileContent); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// UploadTheme creates a new brand config: the verbatim theme state as flat
// fields plus the new asset text as the js_overrides file part. The response
// must carry the content identifier, the hosted locator, and a progress
// handle; anything less is an UploadError with the partial payload attached.
func (c *Client) UploadTheme(ctx context.Context, state ThemeState, asset []byte) (*AssetRecord, error) {
	body, contentType, err := multipartBody(EncodeThemeFields(state), "js_overrides", "loader.js", asset)
	if err != nil {
		return nil, uploadErr(0, "encode body", nil, err)
	}

	endpoint, _ := c.resolve(fmt.Sprintf("/accounts/%s/brand_configs", c.account))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, uploadErr(0, "build request", nil, err)
	}
	req.Header.Set("Content-Type", contentType)

	status, payload, err := c.do(req)
	if err != nil {
		return nil, uploadErr(status, "request failed", payload, err)
	}

	var parsed struct {
		BrandConfig struct {
			MD5         string `json:"md5"`
			JSOverrides string `json:"js_overrides"`
		} `json:"brand_config"`
		Progress struct {
			URL string `json:"url"`
		} `json:"progress"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, uploadErr(status, "unparseable response", payload, err)
	}
	if parsed.BrandConfig.MD5 == "" || parsed.BrandConfig.JSOverrides == "" || parsed.Progress.URL == "" {
		return nil, uploadErr(status, "response missing md5/js_overrides/progress.url", payload, nil)
	}

	c.logger.Info("platform: upload accepted",
		"md5", parsed.BrandConfig.MD5,
		"locator", parsed.BrandConfig.JSOverrides)

	return &AssetRecord{
		MD5:         parsed.BrandConfig.MD5,
		Locator:     parsed.BrandConfig.JSOverrides,
		ProgressURL: parsed.Progress.URL,
	}, nil
}

// PollJob reads a progress handle once. Looping belongs to the caller.
func (c *Client) PollJob(ctx context.Context, progressURL string) (*Job, error) {
	endpoint, err := c.resolve(progressURL)
	if err != nil {
		return nil, pollErr(0, "bad progress url", nil, err)
	}
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pollErr(0, "build request", nil, err)
	}

	status, payload, err := c.do(req)
	if err != nil {
		return nil, pollErr(status, "request failed", payload, err)
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, pollErr(status, "unparseable response", payload, err)
	}
	return &job, nil
}

// ApplyTheme applies an already-uploaded asset to the current session. The
// asset is referenced by its locator string in the js_overrides field, not
// re-uploaded; everything else echoes the discovered state.
func (c *Client) ApplyTheme(ctx context.Context, name string, state ThemeState, locator string) (*ApplyResult, error) {
	fields := append([]Field{{Name: "brand_config[name]", Value: name}}, EncodeThemeFields(state)...)
	fields = append(fields, Field{Name: "js_overrides", Value: locator})

	body, contentType, err := multipartBody(fields, "", "", nil)
	if err != nil {
		return nil, applyErr(0, "encode body", nil, err)
	}

	endpoint, _ := c.resolve(fmt.Sprintf("/accounts/%s/brand_configs/save_to_account", c.account))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, applyErr(0, "build request", nil, err)
	}
	req.Header.Set("Content-Type", contentType)

	status, payload, err := c.do(req)
	if err != nil {
		return nil, applyErr(status, "request failed", payload, err)
	}

	var parsed struct {
		SubAccountProgresses []struct {
			URL string `json:"url"`
		} `json:"subAccountProgresses"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, applyErr(status, "unparseable response", payload, err)
	}

	res := &ApplyResult{RawPayload: payload}
	for _, p := range parsed.SubAccountProgresses {
		if p.URL != "" {
			res.ProgressURLs = append(res.ProgressURLs, p.URL)
		}
	}
	return res, nil
}

// PersistPointer repoints the shared brand config at a content identifier.
// A pure single-field overwrite: the one step of the workflow that is safe
// to retry with the same identifier.
func (c *Client) PersistPointer(ctx context.Context, sharedID, md5 string) error {
	payload := map[string]map[string]string{
		"shared_brand_config": {"brand_config_md5": md5},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return persistErr(0, "encode body", nil, err)
	}

	endpoint, _ := c.resolve(fmt.Sprintf("/api/v1/accounts/%s/shared_brand_configs/%s", c.account, sharedID))
	req, err := c.newRequest(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return persistErr(0, "build request", nil, err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, respBody, err := c.do(req)
	if err != nil {
		return persistErr(status, "request failed", respBody, err)
	}

	c.logger.Info("platform: shared pointer updated", "shared_id", sharedID, "md5", md5)
	return nil
}

// do executes the request and returns (status, body, error). Non-2xx
// statuses are errors with the body preserved for diagnostics.
func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if readErr != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, body, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(previewBody(body)))
	}
	return resp.StatusCode, body, nil
}

func previewBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "…"
	}
	return string(b)
}
