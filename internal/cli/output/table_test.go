package output

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func render(t *testing.T, f *TableFormatter, data any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	return buf.String()
}

func TestTableFormatter_Table(t *testing.T) {
	table := &Table{Headers: []string{"KEY", "VALUE"}}
	table.AddRow("prefs", `{"theme":"dark"}`)
	table.AddRow("user", "-")

	got := render(t, &TableFormatter{}, table)
	want := "KEY    VALUE\nprefs  {\"theme\":\"dark\"}\nuser   -\n"
	if got != want {
		t.Errorf("output =\n%q\nwant\n%q", got, want)
	}

	got = render(t, &TableFormatter{NoHeaders: true}, *table)
	if strings.Contains(got, "KEY") || !strings.Contains(got, "prefs") {
		t.Errorf("no-headers output = %q", got)
	}
}

type status struct {
	Key         string          `json:"key"`
	Synced      bool            `json:"synced"`
	Value       json.RawMessage `json:"value"`
	LastUpdated time.Time       `json:"last_updated"`
	Secret      string          `json:"secret" table:"-"`
	hidden      string
}

func TestTableFormatter_Struct(t *testing.T) {
	s := status{
		Key:         "prefs",
		Synced:      true,
		Value:       json.RawMessage(`{"theme":"dark"}`),
		LastUpdated: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Secret:      "x",
		hidden:      "y",
	}

	got := render(t, &TableFormatter{}, &s)
	for _, want := range []string{"FIELD", "key", "prefs", "synced", "true", `{"theme":"dark"}`, "2026-01-02T03:04:05Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "secret") || strings.Contains(got, "hidden") {
		t.Errorf("output shows hidden fields:\n%s", got)
	}
}

func TestTableFormatter_SliceOfStructs(t *testing.T) {
	rows := []status{{Key: "a"}, {Key: "b", Synced: true}}

	got := render(t, &TableFormatter{}, rows)
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "KEY") || !strings.Contains(lines[0], "LAST_UPDATED") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "b") || !strings.Contains(lines[2], "true") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestTableFormatter_MapSorted(t *testing.T) {
	got := render(t, &TableFormatter{}, map[string]int{"b": 2, "a": 1, "c": 3})
	want := "KEY  VALUE\na    1\nb    2\nc    3\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestTableFormatter_Fallbacks(t *testing.T) {
	if got := render(t, &TableFormatter{}, nil); got != "" {
		t.Errorf("nil output = %q", got)
	}
	if got := render(t, &TableFormatter{}, "plain"); got != "\"plain\"\n" {
		t.Errorf("scalar output = %q", got)
	}
	if got := render(t, &TableFormatter{}, []string{"x", "y"}); got != "VALUE\nx\ny\n" {
		t.Errorf("string slice output = %q", got)
	}
}

func TestFormatValue(t *testing.T) {
	var nilPtr *int
	n := 7
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"empty string", "", "-"},
		{"string", "abc", "abc"},
		{"int", 42, "42"},
		{"uint", uint8(3), "3"},
		{"float", 1.5, "1.5"},
		{"bool", false, "false"},
		{"nil pointer", nilPtr, "-"},
		{"pointer", &n, "7"},
		{"zero time", time.Time{}, "-"},
		{"duration", 1500 * time.Millisecond, "1.5s"},
		{"slice", []int{1, 2}, "[1,2]"},
		{"map", map[string]bool{"on": true}, `{"on":true}`},
		{"raw json", json.RawMessage(`[1]`), "[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(reflect.ValueOf(tt.in)); got != tt.want {
				t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
