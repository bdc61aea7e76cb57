package platform

import "testing"

func TestEncodeThemeFields_BracketNames(t *testing.T) {
	state := ThemeState{
		Variables: map[string]string{
			"ic-brand-primary":    "#0374B5",
			"ic-brand-font-color": "#2D3B45",
		},
		CSSOverrides:       "https://cdn.example/x.css",
		MobileJSOverrides:  "",
		MobileCSSOverrides: "m.css",
	}

	fields := EncodeThemeFields(state)
	want := []Field{
		{"brand_config[variables][ic-brand-font-color]", "#2D3B45"},
		{"brand_config[variables][ic-brand-primary]", "#0374B5"},
		{"css_overrides", "https://cdn.example/x.css"},
		{"mobile_js_overrides", ""},
		{"mobile_css_overrides", "m.css"},
	}

	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(fields), len(want))
	}
	for i, f := range fields {
		if f != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, f, want[i])
		}
	}
}

// Values must survive encoding byte-for-byte: the platform clears anything
// not echoed back, so silent coercion would be destructive.
func TestEncodeThemeFields_VerbatimValues(t *testing.T) {
	odd := "  #fff\t\nwith spaces & symbols % ="
	state := ThemeState{Variables: map[string]string{"k": odd}}

	fields := EncodeThemeFields(state)
	if fields[0].Value != odd {
		t.Errorf("value = %q, want %q", fields[0].Value, odd)
	}
}

func TestSharedTheme_MatchesMD5(t *testing.T) {
	var flat SharedTheme
	flat.BrandConfigMD5 = "abc"

	var nested SharedTheme
	nested.BrandConfig.MD5 = "abc"

	if !flat.MatchesMD5("abc") || !nested.MatchesMD5("abc") {
		t.Error("expected both representations to match")
	}
	if flat.MatchesMD5("def") {
		t.Error("unexpected match")
	}
	if flat.MatchesMD5("") {
		t.Error("empty md5 must never match")
	}
}
