package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/attunehealth/attune-backend/internal/types"
)

// ParseTranscript decodes the stored turn array. A null or empty column is
// treated as an empty transcript, not an error.
func ParseTranscript(raw datatypes.JSON) ([]types.TranscriptTurn, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var turns []types.TranscriptTurn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return turns, nil
}

// RenderTranscript flattens turns into the speaker-labeled text the analysis
// prompts consume. Quote offsets and line numbers reported by extraction are
// relative to this rendering, so it must stay deterministic.
func RenderTranscript(turns []types.TranscriptTurn) string {
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(speakerLabel(turn.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(turn.Text))
	}
	return b.String()
}

func speakerLabel(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant":
		return "Assistant"
	default:
		return "Patient"
	}
}

// locateQuote re-anchors a model-reported quote against the rendered
// transcript. Offsets are recomputed from the first occurrence; when the
// quote cannot be found verbatim the model-reported values are kept.
func locateQuote(rendered, quote string) (start, end, line *int, ok bool) {
	q := strings.TrimSpace(quote)
	if q == "" || rendered == "" {
		return nil, nil, nil, false
	}
	idx := strings.Index(rendered, q)
	if idx < 0 {
		return nil, nil, nil, false
	}
	s := idx
	e := idx + len(q)
	ln := 1 + strings.Count(rendered[:idx], "\n")
	return &s, &e, &ln, true
}
