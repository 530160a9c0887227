package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/service"
)

type RefundOptions struct {
	*RootOptions
	Amount  string
	Reason  string
	Retries int
	Backoff time.Duration
}

func NewRefundCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefundOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "refund <order-id>",
		Short: "Refund part or all of a confirmed order",
		Long: `Refund part or all of a confirmed order.

The amount is in the order's currency, e.g. 12.50. Retries after a
transient failure resubmit the same request, so the refund is issued at
most once. After a conflict the order is reloaded and the amount is checked
again before a new request is sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				return runRefund(ctx, cmd, a, opts, args[0])
			})
		},
	}

	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount to refund")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason shown in the order history")
	cmd.Flags().IntVar(&opts.Retries, "retries", 2, "retries after a transient failure or a conflict")
	cmd.Flags().DurationVar(&opts.Backoff, "backoff", 500*time.Millisecond, "delay before the first retry, doubled each time")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runRefund(ctx context.Context, cmd *cobra.Command, a *app, opts *RefundOptions, orderID string) error {
	sess, err := a.service.Open(ctx, orderID)
	if err != nil {
		return err
	}

	form := &service.RefundForm{}
	a.service.OpenRefundForm(form)
	form.AmountInput = opts.Amount
	form.Reason = opts.Reason

	delay := opts.Backoff
	for attempt := 0; ; attempt++ {
		_, err = a.service.SubmitRefund(ctx, sess, form)
		if err == nil {
			return newPrinter(opts.RootOptions, cmd).session(sess)
		}
		if !domain.Retryable(err) || attempt >= opts.Retries {
			return err
		}
		if domain.RequiresReload(err) {
			// the session already holds the reloaded order
			a.logger.InfoContext(ctx, "order changed, retrying against the reloaded order",
				"order_id", orderID, "attempt", attempt+1, "error", err)
			continue
		}

		a.logger.WarnContext(ctx, "refund failed, retrying",
			"order_id", orderID, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
