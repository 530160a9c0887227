package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/feed"
	"github.com/dannyCSStudent/mojara/internal/ledger"
	"github.com/dannyCSStudent/mojara/internal/lifecycle"
	"github.com/dannyCSStudent/mojara/internal/session"
)

// printer writes command results in the configured format.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) *printer {
	return &printer{format: opts.Format, w: cmd.OutOrStdout()}
}

type orderOutput struct {
	Order          domain.Order          `json:"order"`
	View           lifecycle.View        `json:"view"`
	Tentative      bool                  `json:"tentative,omitempty"`
	LineMismatches []ledger.LineMismatch `json:"line_mismatches,omitempty"`
}

func (p *printer) json(v any) error {
	return json.NewEncoder(p.w).Encode(v)
}

func (p *printer) session(sess *session.Session) error {
	o, ok := sess.Snapshot()
	if !ok {
		return fmt.Errorf("order %s is not loaded", sess.OrderID())
	}
	return p.order(o, lifecycle.Derive(o), sess.Tentative())
}

func (p *printer) order(o domain.Order, view lifecycle.View, tentative bool) error {
	mismatches := ledger.VerifyLineTotals(o.Items)
	if p.format == "json" {
		return p.json(orderOutput{Order: o, View: view, Tentative: tentative, LineMismatches: mismatches})
	}

	status := string(view.Status)
	if view.IsFullyRefunded {
		status += ", fully refunded"
	}
	if tentative {
		status += ", pending confirmation"
	}

	fmt.Fprintf(p.w, "Order %s (%s)\n", o.ID, status)
	for _, item := range o.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		fmt.Fprintf(p.w, "  %3d x %-24s %10s\n", item.Quantity, name, item.LineTotal.Display())
	}
	for _, m := range mismatches {
		item := o.Items[m.Index]
		fmt.Fprintf(p.w, "  ! line %d (%s): %d x %s = %s, service reported %s\n",
			m.Index+1, m.ProductID, item.Quantity, item.UnitPrice.Display(), m.Expected.Display(), m.Actual.Display())
	}
	fmt.Fprintf(p.w, "  %-30s %10s\n", "Items total", view.ItemsTotal.Display())
	if view.HasRefunds {
		fmt.Fprintf(p.w, "  %-30s %10s\n", "Refunded", view.RefundsTotal.Display())
	}
	fmt.Fprintf(p.w, "  %-30s %10s\n", "Remaining", view.RemainingBalance.Display())
	fmt.Fprintf(p.w, "  Actions: %s\n", actionList(view.Allowed))
	return nil
}

func (p *printer) orders(orders []domain.Order) error {
	if p.format == "json" {
		out := make([]orderOutput, 0, len(orders))
		for _, o := range orders {
			out = append(out, orderOutput{Order: o, View: lifecycle.Derive(o)})
		}
		return p.json(out)
	}

	if len(orders) == 0 {
		fmt.Fprintln(p.w, "No orders")
		return nil
	}
	for _, o := range orders {
		view := lifecycle.Derive(o)
		fmt.Fprintf(p.w, "%-36s  %-9s  %10s  %10s\n",
			o.ID, view.Status, view.ItemsTotal.Display(), view.RemainingBalance.Display())
	}
	return nil
}

func (p *printer) feed(lines []feed.DisplayLine) error {
	if p.format == "json" {
		if lines == nil {
			lines = []feed.DisplayLine{}
		}
		return p.json(lines)
	}
	return feed.Render(p.w, lines)
}

// change announces a push notification in a followed list. JSON output has
// no separate line; the reprinted list carries the change.
func (p *printer) change(c domain.OrderChange) error {
	if p.format == "json" {
		return nil
	}
	_, err := fmt.Fprintf(p.w, "-- %s %s\n", strings.ToLower(string(c.Type)), c.OrderID)
	return err
}

// update prints one line per observed change of a watched order.
func (p *printer) update(u session.Update) error {
	if p.format == "json" {
		return p.json(u)
	}

	if u.Gone {
		_, err := fmt.Fprintf(p.w, "seq=%d order removed\n", u.Seq)
		return err
	}
	suffix := ""
	if u.Tentative {
		suffix = " (pending confirmation)"
	}
	_, err := fmt.Fprintf(p.w, "seq=%d status=%s remaining=%s actions=%s%s\n",
		u.Seq, u.View.Status, u.View.RemainingBalance.Display(), actionList(u.View.Allowed), suffix)
	return err
}

func actionList(actions []lifecycle.Action) string {
	if len(actions) == 0 {
		return "none"
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}
