package platform

import (
	"fmt"
	"sort"
)

// Field is one flat multipart form field. The platform expects bracketed
// names like brand_config[variables][ic-brand-primary], never a serialized
// blob, so encoding is centralised here instead of hand-rolled per call.
type Field struct {
	Name  string
	Value string
}

// EncodeThemeFields flattens a ThemeState into the platform's field list:
// one brand_config[variables][<key>] per variable (sorted for deterministic
// requests) followed by the three override slots. Values pass through
// byte-for-byte.
func EncodeThemeFields(state ThemeState) []Field {
	keys := make([]string, 0, len(state.Variables))
	for k := range state.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]Field, 0, len(keys)+3)
	for _, k := range keys {
		fields = append(fields, Field{
			Name:  fmt.Sprintf("brand_config[variables][%s]", k),
			Value: state.Variables[k],
		})
	}
	fields = append(fields,
		Field{Name: "css_overrides", Value: state.CSSOverrides},
		Field{Name: "mobile_js_overrides", Value: state.MobileJSOverrides},
		Field{Name: "mobile_css_overrides", Value: state.MobileCSSOverrides},
	)
	return fields
}
