package services

import (
	"encoding/json"
	"testing"

	"gorm.io/datatypes"

	"github.com/attunehealth/attune-backend/internal/types"
)

func TestRenderTranscriptSpeakerLabels(t *testing.T) {
	turns := []types.TranscriptTurn{
		{Role: "assistant", Text: "How was school today?"},
		{Role: "user", Text: "I ate lunch alone again."},
	}
	got := RenderTranscript(turns)
	want := "Assistant: How was school today?\n\nPatient: I ate lunch alone again."
	if got != want {
		t.Fatalf("rendered transcript: want=%q got=%q", want, got)
	}
}

func TestParseTranscriptEmptyColumn(t *testing.T) {
	turns, err := ParseTranscript(nil)
	if err != nil {
		t.Fatalf("nil column: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("nil column turns: want=0 got=%d", len(turns))
	}

	raw, _ := json.Marshal([]types.TranscriptTurn{{Role: "user", Text: "hi"}})
	turns, err = ParseTranscript(datatypes.JSON(raw))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "hi" {
		t.Fatalf("round trip turns: got=%+v", turns)
	}
}

func TestLocateQuoteRecomputesOffsets(t *testing.T) {
	turns := []types.TranscriptTurn{
		{Role: "assistant", Text: "How was school?"},
		{Role: "user", Text: "I ate lunch alone."},
	}
	rendered := RenderTranscript(turns)

	start, end, line, ok := locateQuote(rendered, "I ate lunch alone.")
	if !ok {
		t.Fatalf("quote not located")
	}
	if rendered[*start:*end] != "I ate lunch alone." {
		t.Fatalf("offsets slice wrong text: %q", rendered[*start:*end])
	}
	if *line != 3 {
		t.Fatalf("line number: want=3 got=%d", *line)
	}

	if _, _, _, ok := locateQuote(rendered, "never said this"); ok {
		t.Fatalf("unfindable quote must not locate")
	}
}
