// Package render turns a score result into display values.
package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pavelanni/fluency/internal/model"
)

// Tier is one of the three score columns.
type Tier struct {
	Label string
	Value string
	Color string
}

// Tier colours.
const (
	ColorOK   = "#ffc107"
	ColorGood = "#28a745"
	ColorBad  = "#dc3545"
)

// Score formats a score with two decimals.
func Score(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Tiers returns the score columns in display order: OK, GOOD, BAD.
func Tiers(r model.ScoreResult) []Tier {
	return []Tier{
		{Label: "OK", Value: Score(r.OK), Color: ColorOK},
		{Label: "GOOD", Value: Score(r.Good), Color: ColorGood},
		{Label: "BAD", Value: Score(r.Bad), Color: ColorBad},
	}
}

// Text writes a plain-text rendering of r, as used by the CLI.
func Text(w io.Writer, r model.ScoreResult) error {
	tiers := Tiers(r)
	_, err := fmt.Fprintf(w, "%s=%s  %s=%s  %s=%s\nVerdict: %s\nSpeaker Text: %s\n",
		tiers[0].Label, tiers[0].Value,
		tiers[1].Label, tiers[1].Value,
		tiers[2].Label, tiers[2].Value,
		r.Verdict, r.SpeakerText)
	return err
}
