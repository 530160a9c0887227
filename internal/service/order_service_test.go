package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/facade"
	"github.com/dannyCSStudent/mojara/internal/lifecycle"
	"github.com/dannyCSStudent/mojara/internal/session"
)

func fiftyDollarOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:       "ord-1",
		UserID:   "u1",
		VendorID: "v1",
		Status:   status,
		Currency: "USD",
		Items: []domain.OrderItem{
			{ProductID: "tomatoes", Quantity: 2, UnitPrice: domain.Dollars(15), LineTotal: domain.Dollars(30)},
			{ProductID: "okra", Quantity: 4, UnitPrice: domain.Dollars(5), LineTotal: domain.Dollars(20)},
		},
		Events: []domain.OrderEvent{{Type: domain.EventCreated}},
	}
}

type fixture struct {
	api  *fakeAPI
	svc  *OrderService
	sess *session.Session
}

func setup(t *testing.T, status domain.OrderStatus) fixture {
	t.Helper()
	api := newFakeAPI(fiftyDollarOrder(status))
	keys := 0
	svc := NewOrderService(facade.New(api))
	svc.newKey = func() string {
		keys++
		return "key-" + string(rune('0'+keys))
	}

	sess, err := svc.Open(context.Background(), "ord-1")
	require.NoError(t, err)

	return fixture{api: api, svc: svc, sess: sess}
}

func requireValidation(t *testing.T, err error, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err), "expected validation error, got %T: %v", err, err)
	assert.EqualError(t, err, msg)
}

func TestRequestRefund_Scenarios(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)
	ctx := context.Background()

	view, err := f.svc.RequestRefund(ctx, f.sess, "20.00", "damaged")
	require.NoError(t, err)
	assert.Equal(t, domain.Dollars(20), view.RefundsTotal)
	assert.Equal(t, domain.Dollars(30), view.RemainingBalance)
	assert.False(t, view.IsFullyRefunded)

	view, err = f.svc.RequestRefund(ctx, f.sess, "30", "")
	require.NoError(t, err)
	assert.Zero(t, view.RemainingBalance)
	assert.True(t, view.IsFullyRefunded)
	assert.True(t, view.IsFinalized)

	_, mutations := f.api.counts()
	_, err = f.svc.RequestRefund(ctx, f.sess, "0.01", "")
	requireValidation(t, err, "order is finalized")

	_, after := f.api.counts()
	assert.Equal(t, mutations, after, "no request may be sent for a rejected refund")
}

func TestRequestRefund_AboveRemainingIsRejectedLocally(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)

	_, err := f.svc.RequestRefund(context.Background(), f.sess, "60", "")

	requireValidation(t, err, "maximum refundable amount is $50.00")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, domain.Dollars(50), *ve.Limit)
	assert.Zero(t, f.api.refunds)
}

func TestRequestRefund_MalformedInput(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)

	for _, input := range []string{"", "abc", "-5", "1.001", "0"} {
		_, err := f.svc.RequestRefund(context.Background(), f.sess, input, "")
		assert.True(t, domain.IsValidation(err), "input %q", input)
	}
	assert.Zero(t, f.api.refunds)
}

func TestRequestRefund_NotLoaded(t *testing.T) {
	svc := NewOrderService(facade.New(newFakeAPI(fiftyDollarOrder(domain.StatusConfirmed))))

	_, err := svc.RequestRefund(context.Background(), session.New("ord-1"), "1", "")

	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestRequestRefund_RefetchesWhenServiceReturnsNoSnapshot(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)
	f.api.noSnapshot = true
	gets, _ := f.api.counts()

	view, err := f.svc.RequestRefund(context.Background(), f.sess, "20", "")

	require.NoError(t, err)
	assert.Equal(t, domain.Dollars(30), view.RemainingBalance)
	after, _ := f.api.counts()
	assert.Equal(t, gets+1, after)
}

func TestRequestRefund_ConflictForcesReload(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)
	// another session refunds $40 behind our back
	f.api.addRefund(domain.Dollars(40))

	view, err := f.svc.RequestRefund(context.Background(), f.sess, "20", "")

	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
	assert.True(t, domain.RequiresReload(err))
	assert.Equal(t, domain.Dollars(10), view.RemainingBalance, "view must reflect the reloaded order")

	_, err = f.svc.RequestRefund(context.Background(), f.sess, "20", "")
	requireValidation(t, err, "maximum refundable amount is $10.00")
}

func TestConflictReloadIgnoresFetchStartedBeforeIt(t *testing.T) {
	f := setup(t, domain.StatusPending)
	ctx := context.Background()

	held, release := f.api.holdNextGet()
	polled := make(chan error, 1)
	go func() { polled <- f.svc.Load(ctx, f.sess) }()
	<-held

	// canceled elsewhere after the poll read the order
	f.api.setStatus(domain.StatusCanceled)

	view, err := f.svc.Confirm(ctx, f.sess)
	require.True(t, domain.IsConflict(err))
	assert.Equal(t, domain.StatusCanceled, view.Status)

	release()
	require.NoError(t, <-polled)

	o, _ := f.sess.Snapshot()
	assert.Equal(t, domain.StatusCanceled, o.Status, "the older poll result must not win")
}

func TestRequestRefund_NotFoundMarksSessionGone(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)
	f.api.mutateErr = &domain.NotFoundError{OrderID: "ord-1"}

	_, err := f.svc.RequestRefund(context.Background(), f.sess, "5", "")

	assert.True(t, domain.IsNotFound(err))
	assert.True(t, f.sess.Gone())

	_, err = f.svc.Confirm(context.Background(), f.sess)
	assert.True(t, domain.IsNotFound(err))
}

func TestSubmitRefund_TransientKeepsFormAndKey(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)
	ctx := context.Background()

	var form RefundForm
	f.svc.OpenRefundForm(&form)
	form.AmountInput = "12.50"
	form.Reason = "bruised"
	key := form.IdempotencyKey
	require.NotEmpty(t, key)

	f.api.mutateErr = &domain.TransientError{Op: "POST /orders/ord-1/refund", Err: errors.New("connection reset")}
	_, err := f.svc.SubmitRefund(ctx, f.sess, &form)

	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
	assert.True(t, form.Open)
	assert.Equal(t, "12.50", form.AmountInput)
	assert.NotEmpty(t, form.Error)

	view, err := f.svc.SubmitRefund(ctx, f.sess, &form)
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(3750), view.RemainingBalance)
	assert.Equal(t, RefundForm{}, form)
	assert.Equal(t, []string{key, key}, f.api.keys)
}

func TestSubmitRefund_ValidationKeepsFormOpen(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)

	form := RefundForm{Open: true, AmountInput: "75"}
	_, err := f.svc.SubmitRefund(context.Background(), f.sess, &form)

	require.Error(t, err)
	assert.True(t, form.Open)
	assert.Equal(t, "maximum refundable amount is $50.00", form.Error)
}

func TestSubmitRefund_ClosedForm(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)

	_, err := f.svc.SubmitRefund(context.Background(), f.sess, &RefundForm{})

	assert.ErrorIs(t, err, ErrFormClosed)
}

func TestConcurrentActionsAreSuppressed(t *testing.T) {
	f := setup(t, domain.StatusConfirmed)
	f.api.entered = make(chan struct{}, 1)
	f.api.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RequestRefund(ctx, f.sess, "10", "")
		done <- err
	}()
	<-f.api.entered

	_, err := f.svc.RequestRefund(ctx, f.sess, "10", "")
	assert.ErrorIs(t, err, session.ErrActionInFlight)

	close(f.api.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.api.refunds)
}

func TestConfirm_TentativeThenAuthoritative(t *testing.T) {
	f := setup(t, domain.StatusPending)
	f.api.entered = make(chan struct{}, 1)
	f.api.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Confirm(context.Background(), f.sess)
		done <- err
	}()
	<-f.api.entered

	view, _ := f.sess.View()
	assert.Equal(t, domain.StatusConfirmed, view.Status)
	assert.True(t, f.sess.Tentative())

	close(f.api.gate)
	require.NoError(t, <-done)

	assert.False(t, f.sess.Tentative())
	o, _ := f.sess.Snapshot()
	assert.Equal(t, domain.StatusConfirmed, o.Status)
	assert.Equal(t, domain.EventConfirmed, o.Events[len(o.Events)-1].Type)
}

func TestCancel_FailureDiscardsTentativePatch(t *testing.T) {
	f := setup(t, domain.StatusPending)
	f.api.mutateErr = &domain.TransientError{Op: "POST", Err: errors.New("timeout")}

	view, err := f.svc.Cancel(context.Background(), f.sess)

	require.Error(t, err)
	assert.Equal(t, domain.StatusPending, view.Status)
	assert.False(t, f.sess.Tentative())
	assert.Equal(t, []lifecycle.Action{lifecycle.ActionConfirm, lifecycle.ActionCancel}, view.Allowed)
}

func TestCanceledOrderRejectsConfirm(t *testing.T) {
	f := setup(t, domain.StatusPending)
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, f.sess)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, f.sess)
	requireValidation(t, err, "order is finalized")
	assert.Zero(t, f.api.confirms)
}

func TestConfirm_ConflictWhenCanceledElsewhere(t *testing.T) {
	f := setup(t, domain.StatusPending)
	f.api.setStatus(domain.StatusCanceled)

	view, err := f.svc.Confirm(context.Background(), f.sess)

	assert.True(t, domain.IsConflict(err))
	assert.Equal(t, domain.StatusCanceled, view.Status)
	assert.True(t, view.IsFinalized)
}

func TestLoad_DiscardsStaleResult(t *testing.T) {
	f := setup(t, domain.StatusPending)

	require.True(t, f.sess.Apply(f.sess.Seq()+100, fiftyDollarOrder(domain.StatusConfirmed)))
	require.NoError(t, f.svc.Load(context.Background(), f.sess))

	o, _ := f.sess.Snapshot()
	assert.Equal(t, domain.StatusConfirmed, o.Status)
}

func TestOpen_NotFound(t *testing.T) {
	api := newFakeAPI(fiftyDollarOrder(domain.StatusPending))
	api.getErr = &domain.NotFoundError{OrderID: "ord-1"}
	svc := NewOrderService(facade.New(api))

	sess, err := svc.Open(context.Background(), "ord-1")

	assert.True(t, domain.IsNotFound(err))
	assert.True(t, sess.Gone())
}

func TestOpen_NetworkResultReplacesCachedSnapshot(t *testing.T) {
	api := newFakeAPI(fiftyDollarOrder(domain.StatusConfirmed))
	svc := NewOrderService(facade.New(api, facade.WithCache(newMemoryCache(fiftyDollarOrder(domain.StatusPending)))))

	sess, err := svc.Open(context.Background(), "ord-1")

	require.NoError(t, err)
	o, _ := sess.Snapshot()
	assert.Equal(t, domain.StatusConfirmed, o.Status)
}

func TestOpen_CachedSnapshotShownWhenFetchFails(t *testing.T) {
	api := newFakeAPI(fiftyDollarOrder(domain.StatusConfirmed))
	api.getErr = &domain.TransientError{Op: "GET", Err: context.DeadlineExceeded}
	svc := NewOrderService(facade.New(api, facade.WithCache(newMemoryCache(fiftyDollarOrder(domain.StatusPending)))))

	sess, err := svc.Open(context.Background(), "ord-1")

	assert.True(t, domain.IsTransient(err))
	o, ok := sess.Snapshot()
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, o.Status)
}

func TestLoad_TransientKeepsLastSnapshot(t *testing.T) {
	f := setup(t, domain.StatusPending)
	f.api.getErr = &domain.TransientError{Op: "GET", Err: context.DeadlineExceeded}

	err := f.svc.Load(context.Background(), f.sess)

	assert.True(t, domain.IsTransient(err))
	o, ok := f.sess.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "ord-1", o.ID)
}
