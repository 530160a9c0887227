// Package feed turns an order's event history into display lines.
package feed

import (
	"fmt"
	"io"
	"time"

	"github.com/dannyCSStudent/mojara/internal/domain"
)

// Tone is the visual weight a line is rendered with.
type Tone string

const (
	ToneNeutral       Tone = "neutral"
	ToneAffirmative   Tone = "affirmative"
	ToneNegative      Tone = "negative"
	ToneInformational Tone = "informational"
)

type DisplayLine struct {
	Type      domain.EventType `json:"type"`
	Tone      Tone             `json:"tone"`
	Text      string           `json:"text"`
	Amount    *domain.Money    `json:"amount,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Project maps events to display lines one to one, keeping their order.
func Project(events []domain.OrderEvent) []DisplayLine {
	lines := make([]DisplayLine, 0, len(events))
	for _, e := range events {
		lines = append(lines, Line(e))
	}
	return lines
}

// Line renders a single event. Unknown event types get a generic line.
func Line(e domain.OrderEvent) DisplayLine {
	line := DisplayLine{
		Type:      e.Type,
		Reason:    e.Reason,
		Timestamp: e.CreatedAt,
	}

	switch e.Type {
	case domain.EventCreated:
		line.Tone, line.Text = ToneNeutral, "Order placed"
	case domain.EventConfirmed:
		line.Tone, line.Text = ToneAffirmative, "Order confirmed"
	case domain.EventCanceled:
		line.Tone, line.Text = ToneNegative, "Order canceled"
	case domain.EventRefundedPartial:
		line.Tone, line.Text = ToneInformational, "Partial refund issued"
		if e.Amount != nil {
			amount := *e.Amount
			line.Amount = &amount
			line.Text = fmt.Sprintf("Partial refund issued (%s)", amount.Display())
		}
	case domain.EventRefundedFull:
		line.Tone, line.Text = ToneInformational, "This order was fully refunded"
	default:
		line.Tone, line.Text = ToneNeutral, "Order updated"
	}

	return line
}

// Render writes one line per entry in the plain text form used by the CLI:
// an RFC 3339 UTC timestamp, the text, then the reason when there is one.
func Render(w io.Writer, lines []DisplayLine) error {
	for _, l := range lines {
		ts := "-"
		if !l.Timestamp.IsZero() {
			ts = l.Timestamp.UTC().Format(time.RFC3339)
		}

		text := ts + "  " + l.Text
		if l.Reason != "" {
			text += "  (reason: " + l.Reason + ")"
		}

		if _, err := io.WriteString(w, text+"\n"); err != nil {
			return fmt.Errorf("write feed line: %w", err)
		}
	}
	return nil
}
