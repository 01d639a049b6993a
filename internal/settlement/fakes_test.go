package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/msaedi/instructly-sub008/internal/credit"
	"github.com/msaedi/instructly-sub008/internal/db"
	"github.com/msaedi/instructly-sub008/internal/notify"
	"github.com/msaedi/instructly-sub008/internal/payment"
)

type fakeTx struct{}

func (fakeTx) InTx(_ context.Context, fn db.TxFunc) error {
	return fn(nil)
}

type fakeRepo struct {
	mu      sync.Mutex
	records map[int64]Record
	ops     map[string]Operation
	locks   map[int64]Lock
	reports map[int64]NoShowReport
	saveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records: map[int64]Record{},
		ops:     map[string]Operation{},
		locks:   map[int64]Lock{},
		reports: map[int64]NoShowReport{},
	}
}

func (r *fakeRepo) WithTx(*sqlx.Tx) Repository { return r }

func (r *fakeRepo) Create(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ReservationID]; ok {
		return errors.New("duplicate record")
	}
	rec.CreatedAt = time.Now()
	r.records[rec.ReservationID] = *rec
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id int64) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (r *fakeRepo) GetForUpdate(ctx context.Context, id int64) (*Record, error) {
	return r.Get(ctx, id)
}

func (r *fakeRepo) Save(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.records[rec.ReservationID]; !ok {
		return ErrRecordNotFound
	}
	r.records[rec.ReservationID] = *rec
	return nil
}

func (r *fakeRepo) MarkManualReview(_ context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.PaymentStatus = StatusManualReview
	rec.Outcome = reason
	r.records[id] = rec
	return nil
}

func (r *fakeRepo) GetOperation(_ context.Context, key string) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[key]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return &op, nil
}

func (r *fakeRepo) InsertOperation(_ context.Context, op *Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[op.IdempotencyKey]; ok {
		return nil
	}
	op.Status = OperationPending
	op.CreatedAt = time.Now()
	r.ops[op.IdempotencyKey] = *op
	return nil
}

func (r *fakeRepo) UpdateOperation(_ context.Context, op *Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[op.IdempotencyKey]; !ok {
		return ErrOperationNotFound
	}
	r.ops[op.IdempotencyKey] = *op
	return nil
}

func (r *fakeRepo) ListPendingOperations(_ context.Context, olderThan time.Time, limit int) ([]Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Operation
	for _, op := range r.ops {
		if op.Status == OperationPending && op.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, op)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateLock(_ context.Context, lock *Lock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks[lock.ReservationID] = *lock
	return nil
}

func (r *fakeRepo) FindOpenLockByReplacement(_ context.Context, replacementID int64) (*Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.locks {
		if l.ReplacementID == replacementID && l.Resolution == nil {
			return &l, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) MoveLock(_ context.Context, reservationID, replacementID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[reservationID]
	if ok && l.Resolution == nil {
		l.ReplacementID = replacementID
		r.locks[reservationID] = l
	}
	return nil
}

func (r *fakeRepo) ResolveLock(_ context.Context, replacementID int64, resolution LockResolution, at time.Time) (*Lock, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, l := range r.locks {
		if l.ReplacementID == replacementID && l.Resolution == nil {
			l.Resolution = &resolution
			l.ResolvedAt = &at
			r.locks[id] = l
			return &l, true, nil
		}
	}
	return nil, false, nil
}

func (r *fakeRepo) CreateReport(_ context.Context, rep *NoShowReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[rep.ReservationID]; ok {
		return errors.New("duplicate report")
	}
	rep.ID = int64(len(r.reports) + 1)
	r.reports[rep.ReservationID] = *rep
	return nil
}

func (r *fakeRepo) GetReport(_ context.Context, id int64) (*NoShowReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return &rep, nil
}

func (r *fakeRepo) GetReportForUpdate(ctx context.Context, id int64) (*NoShowReport, error) {
	return r.GetReport(ctx, id)
}

func (r *fakeRepo) SaveReport(_ context.Context, rep *NoShowReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[rep.ReservationID] = *rep
	return nil
}

func (r *fakeRepo) ListExpiredReports(_ context.Context, now time.Time, limit int) ([]NoShowReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NoShowReport
	for _, rep := range r.reports {
		if rep.State == ReportReported && !rep.DisputeDeadline.After(now) && len(out) < limit {
			out = append(out, rep)
		}
	}
	return out, nil
}

type fakeCredits struct {
	mu      sync.Mutex
	entries map[string]credit.Entry
	balance map[int64]int64
}

func newFakeCredits() *fakeCredits {
	return &fakeCredits{entries: map[string]credit.Entry{}, balance: map[int64]int64{}}
}

func (c *fakeCredits) WithTx(*sqlx.Tx) credit.Repository { return c }

func (c *fakeCredits) GetOrCreateAccount(_ context.Context, userID int64) (*credit.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &credit.Account{UserID: userID, BalanceCents: c.balance[userID], Currency: "USD"}, nil
}

func (c *fakeCredits) AddTransaction(_ context.Context, e credit.Entry) (*credit.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[e.IdempotencyKey]; ok {
		return &credit.Transaction{ID: 1}, false, nil
	}
	c.entries[e.IdempotencyKey] = e
	c.balance[e.UserID] += e.AmountCents
	return &credit.Transaction{ID: int64(len(c.entries)), AmountCents: e.AmountCents, BalanceAfter: c.balance[e.UserID]}, true, nil
}

func (c *fakeCredits) GetTransactions(context.Context, int64, int, int) ([]credit.Transaction, error) {
	return nil, nil
}

type gatewayCall struct {
	Kind   EffectKind
	Ref    string
	Amount int64
	Key    string
}

// fakeGateway succeeds unless a scripted result is queued for the kind.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []gatewayCall
	scripted map[EffectKind][]payment.Result
	transfer string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{scripted: map[EffectKind][]payment.Result{}, transfer: "tr_1"}
}

func (g *fakeGateway) script(kind EffectKind, results ...payment.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripted[kind] = append(g.scripted[kind], results...)
}

func (g *fakeGateway) next(kind EffectKind, ref string, amount int64, key string, ok payment.Result) payment.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gatewayCall{Kind: kind, Ref: ref, Amount: amount, Key: key})
	if q := g.scripted[kind]; len(q) > 0 {
		g.scripted[kind] = q[1:]
		return q[0]
	}
	return ok
}

func (g *fakeGateway) count(kind EffectKind) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (g *fakeGateway) Authorize(_ context.Context, customerRef string, amount int64, key string) payment.Result {
	return g.next(EffectAuthorize, customerRef, amount, key, payment.Success("pi_1"))
}

func (g *fakeGateway) Capture(_ context.Context, intentRef string, key string) payment.Result {
	ok := payment.Success(intentRef)
	ok.TransferRef = g.transfer
	return g.next(EffectCapture, intentRef, 0, key, ok)
}

func (g *fakeGateway) Refund(_ context.Context, intentRef string, amount int64, key string) payment.Result {
	return g.next(EffectRefund, intentRef, amount, key, payment.Success("re_1"))
}

func (g *fakeGateway) ReverseTransfer(_ context.Context, transferRef string, amount int64, key string) payment.Result {
	return g.next(EffectReverseTransfer, transferRef, amount, key, payment.Success("trr_1"))
}

func (g *fakeGateway) CancelAuthorization(_ context.Context, intentRef string, key string) payment.Result {
	return g.next(EffectCancelAuthorization, intentRef, 0, key, payment.Success(intentRef))
}

type fakeLinks map[int64]int64

func (l fakeLinks) RescheduledFrom(_ context.Context, _ *sqlx.Tx, id int64) (*int64, error) {
	prev, ok := l[id]
	if !ok {
		return nil, nil
	}
	return &prev, nil
}

type fakeScheduler struct {
	authorizations map[int64]time.Time
	expiries       map[int64]time.Time
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{authorizations: map[int64]time.Time{}, expiries: map[int64]time.Time{}}
}

func (s *fakeScheduler) ScheduleAuthorization(_ context.Context, id int64, at time.Time) error {
	s.authorizations[id] = at
	return nil
}

func (s *fakeScheduler) ScheduleNoShowExpiry(_ context.Context, id int64, at time.Time) error {
	s.expiries[id] = at
	return nil
}

type sentNotification struct {
	Kind        notify.Kind
	RecipientID int64
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *fakeNotifier) Notify(_ context.Context, kind notify.Kind, recipientID int64, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Kind: kind, RecipientID: recipientID})
}
