package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "table", want: FormatTable},
		{in: "JSON", want: FormatJSON},
		{in: "yaml", want: FormatYAML},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	if _, ok := NewFormatter(FormatJSON).(*JSONFormatter); !ok {
		t.Error("expected JSONFormatter")
	}
	if _, ok := NewFormatter(FormatYAML).(*YAMLFormatter); !ok {
		t.Error("expected YAMLFormatter")
	}
	if _, ok := NewFormatter("unknown").(*TableFormatter); !ok {
		t.Error("expected TableFormatter by default")
	}
}

func TestJSONFormatter_Format(t *testing.T) {
	data := struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}{Key: "prefs", Value: json.RawMessage(`{"theme":"dark"}`)}

	var buf bytes.Buffer
	if err := (&JSONFormatter{}).Format(&buf, data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"key": "prefs"`) || !strings.Contains(buf.String(), `"theme": "dark"`) {
		t.Errorf("output = %s", buf.String())
	}

	buf.Reset()
	if err := (&JSONFormatter{Compact: true}).Format(&buf, data); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != `{"key":"prefs","value":{"theme":"dark"}}`+"\n" {
		t.Errorf("compact output = %q", got)
	}
}

func TestYAMLFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{"node": map[string]any{"key": "prefs"}}
	if err := (&YAMLFormatter{}).Format(&buf, data); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "node:\n  key: prefs\n" {
		t.Errorf("output = %q", got)
	}

	buf.Reset()
	if err := (&YAMLFormatter{}).Format(&buf, json.RawMessage(`{"theme":"dark"}`)); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "theme: dark\n" {
		t.Errorf("raw output = %q", got)
	}
}
