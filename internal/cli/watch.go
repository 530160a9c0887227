package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/realtime"
	"github.com/dannyCSStudent/mojara/internal/session"
)

func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var untilSettled bool

	cmd := &cobra.Command{
		Use:   "watch <order-id>",
		Short: "Follow an order until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return runWatch(ctx, cmd, a, opts, args[0], untilSettled)
			})
		},
	}

	cmd.Flags().BoolVar(&untilSettled, "until-settled", false, "exit once the order is no longer pending")
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, a *app, opts *RootOptions, orderID string, untilSettled bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := a.service.Open(ctx, orderID)
	if err != nil {
		return err
	}
	defer sess.Detach()

	updates, stop := sess.Watch()
	defer stop()

	scope := realtime.Scope{VendorID: opts.VendorID}
	done := make(chan error, 1)
	go func() {
		done <- a.service.Watch(ctx, sess, scope, func() bool { return true })
	}()

	p := newPrinter(opts, cmd)
	last := ""
	show := func(u session.Update) error {
		key := updateKey(u)
		if key == last {
			return nil
		}
		last = key
		return p.update(u)
	}

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := show(u); err != nil {
				return err
			}
			if untilSettled && !u.Tentative && !u.Gone && u.Order.Status != domain.StatusPending {
				cancel()
				<-done
				return nil
			}

		case err := <-done:
			// the last state may still be buffered
			select {
			case u, ok := <-updates:
				if ok {
					if printErr := show(u); printErr != nil {
						return printErr
					}
				}
			default:
			}
			return err
		}
	}
}

// updateKey identifies what a watcher would see change.
func updateKey(u session.Update) string {
	return fmt.Sprintf("%s|%d|%d|%t|%t",
		u.Order.Status, u.View.RemainingBalance, len(u.Order.Events), u.Tentative, u.Gone)
}
