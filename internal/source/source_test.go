package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var charts = []string{"bar_race", "mind_map", "geo_map"}

func TestOpenLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "population_bar_race.html")
	if err := os.WriteFile(path, []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Open(path, ClassScriptedTimeline, charts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !strings.HasPrefix(doc.URI, "file:///") {
		t.Errorf("expected file URI, got %s", doc.URI)
	}
	if doc.Category != "bar_race" || !doc.ChartDriven() {
		t.Errorf("expected bar_race category, got %q", doc.Category)
	}
	if doc.Name() != "population_bar_race" {
		t.Errorf("unexpected name %q", doc.Name())
	}
}

func TestOpenRejectsMissingAndDirectories(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "missing.html"), ClassContinuous, nil); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Open(dir, ClassContinuous, nil); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := Open("  ", ClassContinuous, nil); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestOpenRemote(t *testing.T) {
	doc, err := Open("https://example.com/anim/mind_map.html", ClassContinuous, charts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if doc.URI != "https://example.com/anim/mind_map.html" {
		t.Errorf("remote URI should pass through, got %s", doc.URI)
	}
	if doc.Category != "mind_map" {
		t.Errorf("expected mind_map, got %q", doc.Category)
	}
}

func TestDetectCategory(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/a/photosynthesis.html", ""},
		{"/a/GDP_Bar_Race.html", "bar_race"},
		{"/geo_map/plain.html", "geo_map"},
		{"/charts/Bar_Race/index.html", "bar_race"},
		{"/a/world_geo_map.html", "geo_map"},
	}
	for _, tt := range tests {
		if got := DetectCategory(tt.path, charts); got != tt.want {
			t.Errorf("DetectCategory(%s) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestParseClass(t *testing.T) {
	for in, want := range map[string]Class{
		"":                  ClassScriptedTimeline,
		"scripted-timeline": ClassScriptedTimeline,
		"Continuous":        ClassContinuous,
	} {
		got, err := ParseClass(in)
		if err != nil || got != want {
			t.Errorf("ParseClass(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseClass("vr"); err == nil {
		t.Error("expected error for unknown class")
	}
}
