// Package platform is the thin request/response client for the LMS brand
// config endpoints: upload, apply-to-session, persist-pointer, and the
// companion progress read. It performs no retries and no polling; workflow
// policy lives in package deploy.
package platform

// ThemeState is the platform's current customization record: the named style
// variables plus the three free-text override slots.
//
// Write endpoints treat omitted fields as cleared, so every write must echo
// back all fields exactly as read. ThemeState is therefore carried verbatim
// from discovery through upload and apply.
type ThemeState struct {
	Variables          map[string]string
	CSSOverrides       string
	MobileJSOverrides  string
	MobileCSSOverrides string
}

// Clone returns a deep copy so callers can hold the discovered state without
// aliasing the variables map.
func (s ThemeState) Clone() ThemeState {
	out := s
	out.Variables = make(map[string]string, len(s.Variables))
	for k, v := range s.Variables {
		out.Variables[k] = v
	}
	return out
}

// AssetRecord is the immutable result of an upload: the content identifier,
// the hosted locator of the uploaded asset, and the handle of the background
// job that processes it.
type AssetRecord struct {
	MD5         string
	Locator     string
	ProgressURL string
}

// Job is a single observation of an asynchronous platform job. Any
// WorkflowState other than completed/failed means the job is still running.
type Job struct {
	WorkflowState string  `json:"workflow_state"`
	Completion    float64 `json:"completion"`
	Message       string  `json:"message"`
}

// Job workflow states with terminal meaning. The full label set is
// platform-defined; everything else counts as in progress.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.WorkflowState == JobCompleted || j.WorkflowState == JobFailed
}

// ApplyResult is the response of the apply-to-session call. The platform does
// not always generate regeneration jobs, so ProgressURLs may be empty.
type ApplyResult struct {
	ProgressURLs []string
	RawPayload   []byte
}

// SharedTheme is one entry of the shared brand config list exposed on the
// admin page. Depending on platform version the content identifier appears
// either flattened or nested.
type SharedTheme struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	BrandConfigMD5 string `json:"brand_config_md5"`
	BrandConfig    struct {
		MD5 string `json:"md5"`
	} `json:"brand_config"`
}

// MatchesMD5 reports whether this shared record points at the given content
// identifier, in either representation.
func (t *SharedTheme) MatchesMD5(md5 string) bool {
	return md5 != "" && (t.BrandConfigMD5 == md5 || t.BrandConfig.MD5 == md5)
}
