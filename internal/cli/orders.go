package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/facade"
	"github.com/dannyCSStudent/mojara/internal/feed"
	"github.com/dannyCSStudent/mojara/internal/lifecycle"
	"github.com/dannyCSStudent/mojara/internal/realtime"
	"github.com/dannyCSStudent/mojara/internal/service"
	"github.com/dannyCSStudent/mojara/internal/session"
)

// withApp builds the client stack for one command invocation.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

func NewShowCommand(opts *RootOptions) *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order with its balance and available actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				p := newPrinter(opts, cmd)
				if cached {
					if o, ok := a.orders.CachedOrder(ctx, args[0]); ok {
						return p.order(*o, lifecycle.Derive(*o), false)
					}
					a.logger.DebugContext(ctx, "no cached copy, fetching", "order_id", args[0])
				}

				sess, err := a.service.Open(ctx, args[0])
				if err != nil {
					return err
				}
				return p.session(sess)
			})
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "print the last cached copy without contacting the service, if there is one")
	return cmd
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	var (
		scope  string
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your orders, or your vendor's orders with --scope vendor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				list := a.orders.ListMyOrders
				// the bearer token is the user id
				sub := realtime.Scope{UserID: opts.Token}
				switch scope {
				case "user":
				case "vendor":
					list = a.orders.ListVendorOrders
					sub = realtime.Scope{VendorID: opts.VendorID}
				default:
					return fmt.Errorf("invalid scope %q: must be user or vendor", scope)
				}

				orders, err := list(ctx)
				if err != nil {
					return err
				}
				p := newPrinter(opts, cmd)
				if err := p.orders(orders); err != nil || !follow {
					return err
				}

				subscription, err := a.orders.Subscribe(ctx, sub)
				if err != nil {
					if errors.Is(err, facade.ErrNoSubscriber) {
						return errors.New("--follow needs --brokers")
					}
					return err
				}
				defer subscription.Close()
				return followList(ctx, p, orders, subscription.C())
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "user", "user or vendor")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep the list current from push updates until interrupted")
	return cmd
}

// followList reprints orders after every change until ctx is done or changes
// is closed.
func followList(ctx context.Context, p *printer, orders []domain.Order, changes <-chan domain.OrderChange) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			orders = realtime.ApplyToList(orders, c)
			if err := p.change(c); err != nil {
				return err
			}
			if err := p.orders(orders); err != nil {
				return err
			}
		}
	}
}

func NewFeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "feed <order-id>",
		Short: "Print the order's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				snap, err := a.orders.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return newPrinter(opts, cmd).feed(feed.Project(snap.Order.Events))
			})
		},
	}
}

func NewConfirmCommand(opts *RootOptions) *cobra.Command {
	return actionCommand(opts, "confirm", "Confirm a pending order", (*service.OrderService).Confirm)
}

func NewCancelCommand(opts *RootOptions) *cobra.Command {
	return actionCommand(opts, "cancel", "Cancel a pending order", (*service.OrderService).Cancel)
}

type actionFunc func(*service.OrderService, context.Context, *session.Session) (lifecycle.View, error)

func actionCommand(opts *RootOptions, name, short string, action actionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <order-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.service.Open(ctx, args[0])
				if err != nil {
					return err
				}
				if _, err := action(a.service, ctx, sess); err != nil {
					return err
				}
				return newPrinter(opts, cmd).session(sess)
			})
		},
	}
}
