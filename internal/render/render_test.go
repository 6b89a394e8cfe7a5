package render

import (
	"bytes"
	"testing"

	"github.com/pavelanni/fluency/internal/model"
)

func TestTiers(t *testing.T) {
	got := Tiers(model.ScoreResult{OK: 1.5, Good: 2.25, Bad: 0})
	want := []Tier{
		{"OK", "1.50", ColorOK},
		{"GOOD", "2.25", ColorGood},
		{"BAD", "0.00", ColorBad},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tiers, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tier %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{1.005, "1.00"},
		{2.675, "2.67"},
		{-0.5, "-0.50"},
		{12345.678, "12345.68"},
	}
	for _, tt := range tests {
		if got := Score(tt.in); got != tt.want {
			t.Errorf("Score(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	err := Text(&buf, model.ScoreResult{OK: 1.5, Good: 2.25, Bad: 0, Verdict: "Pass", SpeakerText: "hi"})
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	want := "OK=1.50  GOOD=2.25  BAD=0.00\nVerdict: Pass\nSpeaker Text: hi\n"
	if buf.String() != want {
		t.Errorf("Text() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestTextDefaults(t *testing.T) {
	var buf bytes.Buffer
	_ = Text(&buf, model.ScoreResult{OK: 3, Good: 1, Verdict: model.NotAvailable, SpeakerText: model.NotAvailable})
	want := "OK=3.00  GOOD=1.00  BAD=0.00\nVerdict: N/A\nSpeaker Text: N/A\n"
	if buf.String() != want {
		t.Errorf("Text() =\n%q\nwant\n%q", buf.String(), want)
	}
}
