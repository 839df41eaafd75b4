// Package audio builds the soundtrack: per-scene narration, background music and silence.
package audio

import "fmt"

// Kind classifies where a track came from.
type Kind int

const (
	KindFile Kind = iota
	KindComposite
	KindSilence
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindComposite:
		return "composite"
	case KindSilence:
		return "silence"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Track is an audio file with its authoritative duration.
type Track struct {
	Path    string
	Seconds float64
	Kind    Kind
}

// Absent reports a track that contributes nothing; zero duration counts as absent.
func (t Track) Absent() bool {
	return t.Path == "" || t.Seconds <= 0
}
