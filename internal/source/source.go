package source

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Class tags what a document exposes for frame capture.
type Class int

const (
	// ClassScriptedTimeline documents are expected to expose prepareTimeline/seekTo.
	ClassScriptedTimeline Class = iota
	// ClassContinuous documents only play forward, optionally at a speed multiplier.
	ClassContinuous
)

func (c Class) String() string {
	switch c {
	case ClassScriptedTimeline:
		return "scripted-timeline"
	case ClassContinuous:
		return "continuous"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass accepts the names produced by String; an empty value means scripted-timeline.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "scripted-timeline", "scripted", "timeline":
		return ClassScriptedTimeline, nil
	case "continuous":
		return ClassContinuous, nil
	default:
		return 0, fmt.Errorf("unknown document class %q", s)
	}
}

// Document is a read-only reference to a renderable animation.
type Document struct {
	Path     string
	URI      string
	Class    Class
	Category string // chart library category, empty for ordinary documents
}

// Open resolves path into a Document. Remote http(s) URIs are accepted as-is.
func Open(path string, class Class, chartCategories []string) (Document, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Document{}, fmt.Errorf("document path is empty")
	}

	if u, err := url.Parse(path); err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "file") {
		doc := Document{Path: path, URI: path, Class: class}
		doc.Category = DetectCategory(u.Path, chartCategories)
		return doc, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Document{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return Document{}, err
	}
	if fi.IsDir() {
		return Document{}, fmt.Errorf("document %s is a directory", abs)
	}

	return Document{
		Path:     abs,
		URI:      FileURI(abs),
		Class:    class,
		Category: DetectCategory(abs, chartCategories),
	}, nil
}

// FileURI converts an absolute filesystem path to a file:// URI.
func FileURI(abs string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	if !strings.HasPrefix(u.Path, "/") {
		// Windows drive letters
		u.Path = "/" + u.Path
	}
	return u.String()
}

// DetectCategory returns the first chart category whose name appears anywhere in
// path, so a bar_race/ directory marks every document inside it.
func DetectCategory(path string, categories []string) string {
	name := strings.ToLower(filepath.ToSlash(path))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && strings.Contains(name, c) {
			return c
		}
	}
	return ""
}

// ChartDriven reports whether the document belongs to a chart-library category whose
// internal transitions cannot be driven by an external seek.
func (d Document) ChartDriven() bool {
	return d.Category != ""
}

// Name is the document file name without extension.
func (d Document) Name() string {
	base := filepath.Base(d.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
