package diarization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yegors/transcribe-gateway/internal/speech"
)

// Line is one speaker block of a transcript. Speaker is empty for segments
// the service returned without word-level attribution.
type Line struct {
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
}

// String renders the line the way it appears in the joined transcript
func (l Line) String() string {
	if l.Speaker == "" {
		return l.Text
	}
	return l.Speaker + ": " + l.Text
}

// Transcript is the reduced, speaker-grouped output of a recognition job
type Transcript struct {
	Lines []Line `json:"lines"`
	Text  string `json:"text"`
}

// Options control speaker labelling
type Options struct {
	// UnattributedTagZero treats speaker tag 0 as "no speaker" instead of the first speaker
	UnattributedTagZero bool
	// UnattributedLabel is used for tag 0 when UnattributedTagZero is set
	UnattributedLabel string
}

// Reducer groups recognized words by speaker
type Reducer struct {
	opts Options
}

// NewReducer creates a reducer with the given labelling options
func NewReducer(opts Options) *Reducer {
	if opts.UnattributedLabel == "" {
		opts.UnattributedLabel = "Unattributed"
	}
	return &Reducer{opts: opts}
}

// Reduce converts a recognition result into a transcript grouped by speaker.
// Each segment is reduced on its own; segments keep their order and are
// separated by a blank line, as are the speaker blocks inside one segment.
func (r *Reducer) Reduce(result *speech.Result) Transcript {
	t := Transcript{Lines: []Line{}}
	if result == nil {
		return t
	}

	var blocks []string
	for _, seg := range result.Segments {
		lines := r.reduceSegment(seg)
		if len(lines) == 0 {
			continue
		}
		rendered := make([]string, len(lines))
		for i, l := range lines {
			rendered[i] = l.String()
		}
		t.Lines = append(t.Lines, lines...)
		blocks = append(blocks, strings.Join(rendered, "\n\n"))
	}

	t.Text = strings.Join(blocks, "\n\n")
	return t
}

func (r *Reducer) reduceSegment(seg speech.Segment) []Line {
	if len(seg.Words) == 0 {
		if seg.Transcript == "" {
			return nil
		}
		return []Line{{Text: seg.Transcript}}
	}

	groups := make(map[int][]string)
	for _, w := range seg.Words {
		if w.Text == "" {
			continue
		}
		groups[w.SpeakerTag] = append(groups[w.SpeakerTag], w.Text)
	}

	tags := make([]int, 0, len(groups))
	for tag := range groups {
		tags = append(tags, tag)
	}
	sort.Ints(tags)

	lines := make([]Line, 0, len(tags))
	for _, tag := range tags {
		lines = append(lines, Line{
			Speaker: r.label(tag),
			Text:    strings.Join(groups[tag], " "),
		})
	}
	return lines
}

func (r *Reducer) label(tag int) string {
	if tag == 0 && r.opts.UnattributedTagZero {
		return r.opts.UnattributedLabel
	}
	return fmt.Sprintf("Speaker %d", tag+1)
}

// Plain joins the top transcript of every segment with newlines, ignoring speaker tags
func Plain(result *speech.Result) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Segments))
	for _, seg := range result.Segments {
		parts = append(parts, seg.Transcript)
	}
	return strings.Join(parts, "\n")
}
