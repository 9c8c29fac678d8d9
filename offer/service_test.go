package offer

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestSubmit_RejectsBadInput(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{}, nil)

	cases := []struct {
		name   string
		params SubmitParams
		want   error
	}{
		{"zero amount", SubmitParams{JobID: "j1", ContractorID: "c1", Source: SourceMarketplaceBid}, ErrInvalidAmount},
		{"negative amount", SubmitParams{JobID: "j1", ContractorID: "c1", Source: SourceMarketplaceBid, AmountCents: -100}, ErrInvalidAmount},
		{"bad source", SubmitParams{JobID: "j1", ContractorID: "c1", Source: "carrier_pigeon", AmountCents: 100}, ErrInvalidSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Submit(context.Background(), tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmit_JobNotOpen(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{jobStatus: "confirmed"}
	svc := NewService(pool, repo, nil)

	_, err := svc.Submit(context.Background(), SubmitParams{
		JobID:        "j1",
		ContractorID: "c1",
		Source:       SourceMarketplaceBid,
		AmountCents:  10000,
	})
	if !errors.Is(err, ErrJobNotOpen) {
		t.Fatalf("expected ErrJobNotOpen, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback")
	}
}

func TestSubmit_CommitsAndEnqueues(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{jobStatus: "open"}
	outbox := &fakeOutbox{}
	svc := NewService(pool, repo, outbox).WithIDGenerator(func() string { return "offer-1" })

	created, err := svc.Submit(context.Background(), SubmitParams{
		JobID:        "j1",
		ContractorID: "c1",
		Source:       SourceMarketplaceBid,
		AmountCents:  12500,
		Message:      "tomorrow morning",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.ID != "offer-1" || created.Status != StatusPending {
		t.Errorf("unexpected created offer: %+v", created)
	}
	if !repo.markedOffered {
		t.Errorf("expected job to be flipped to offered")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
	if len(outbox.topics) != 1 || outbox.topics[0] != "offer.submitted" {
		t.Errorf("expected offer.submitted enqueued, got %v", outbox.topics)
	}
}

func TestSubmit_ETAFailureTolerated(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{jobStatus: "open"}
	svc := NewService(pool, repo, nil).WithETAProvider(failingETA{})

	created, err := svc.Submit(context.Background(), SubmitParams{
		JobID:        "j1",
		ContractorID: "c1",
		Source:       SourceDirectOffer,
		AmountCents:  9000,
	})
	if err != nil {
		t.Fatalf("submit should survive eta failure: %v", err)
	}
	if created.EtaMinutesHint != nil {
		t.Errorf("expected nil eta hint, got %v", *created.EtaMinutesHint)
	}
}

func TestCounterBid_Guards(t *testing.T) {
	cases := []struct {
		name    string
		current Offer
		actor   string
		want    error
	}{
		{
			name:    "wrong contractor",
			current: Offer{ID: "o1", ContractorID: "c1", Source: SourceDirectOffer, Status: StatusPending},
			actor:   "c2",
			want:    ErrForbidden,
		},
		{
			name:    "marketplace bid not counterable",
			current: Offer{ID: "o1", ContractorID: "c1", Source: SourceMarketplaceBid, Status: StatusPending},
			actor:   "c1",
			want:    ErrInvalidState,
		},
		{
			name:    "already countered",
			current: Offer{ID: "o1", ContractorID: "c1", Source: SourceDirectOffer, Status: StatusCounterBid},
			actor:   "c1",
			want:    ErrInvalidState,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pool := &fakePool{}
			repo := &fakeRepo{offer: tc.current}
			svc := NewService(pool, repo, nil)

			_, err := svc.CounterBid(context.Background(), CounterBidParams{
				OfferID:        tc.current.ID,
				ActorID:        tc.actor,
				NewAmountCents: 14000,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if pool.tx.committed {
				t.Errorf("expected commit to be skipped")
			}
		})
	}
}

func TestCounterBid_UpdatesAmount(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{offer: Offer{ID: "o1", JobID: "j1", ContractorID: "c1", Source: SourceDirectOffer, Status: StatusPending, AmountCents: 15000}}
	outbox := &fakeOutbox{}
	svc := NewService(pool, repo, outbox)

	updated, err := svc.CounterBid(context.Background(), CounterBidParams{
		OfferID:        "o1",
		ActorID:        "c1",
		NewAmountCents: 14000,
	})
	if err != nil {
		t.Fatalf("counter bid: %v", err)
	}
	if updated.Status != StatusCounterBid || updated.AmountCents != 14000 {
		t.Errorf("unexpected updated offer: %+v", updated)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
	if len(outbox.topics) != 1 || outbox.topics[0] != "offer.counter_bid" {
		t.Errorf("expected offer.counter_bid enqueued, got %v", outbox.topics)
	}
}

func TestWithdraw_Idempotent(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{offer: Offer{ID: "o1", ContractorID: "c1", Status: StatusWithdrawn}}
	svc := NewService(pool, repo, nil)

	if err := svc.Withdraw(context.Background(), "o1", "c1"); err != nil {
		t.Fatalf("withdraw of withdrawn offer should be a no-op, got %v", err)
	}
	if repo.updated {
		t.Errorf("expected no state write on repeat withdraw")
	}
}

func TestWithdraw_AcceptedOfferRejected(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{offer: Offer{ID: "o1", ContractorID: "c1", Status: StatusAccepted}}
	svc := NewService(pool, repo, nil)

	if err := svc.Withdraw(context.Background(), "o1", "c1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

type failingETA struct{}

func (failingETA) EstimateMinutes(context.Context, string, string) (int, error) {
	return 0, errors.New("routing service down")
}

type fakeOutbox struct {
	topics []string
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

type fakeRepo struct {
	jobStatus     string
	offer         Offer
	markedOffered bool
	updated       bool
}

func (f *fakeRepo) Insert(ctx context.Context, tx pgx.Tx, o Offer) (Offer, error) {
	return o, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (Offer, error) {
	return f.offer, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Offer, error) {
	if f.offer.ID == "" {
		return Offer{}, ErrNotFound
	}
	return f.offer, nil
}

func (f *fakeRepo) UpdateState(ctx context.Context, tx pgx.Tx, id string, status Status, amountCents int64) (Offer, error) {
	f.updated = true
	o := f.offer
	o.Status = status
	o.AmountCents = amountCents
	return o, nil
}

func (f *fakeRepo) ListActive(ctx context.Context, jobID string) ([]Offer, error) {
	return nil, nil
}

func (f *fakeRepo) ListForContractor(ctx context.Context, contractorID string) ([]Offer, error) {
	return nil, nil
}

func (f *fakeRepo) LockJobStatus(ctx context.Context, tx pgx.Tx, jobID string) (string, error) {
	if f.jobStatus == "" {
		return "", ErrJobNotFound
	}
	return f.jobStatus, nil
}

func (f *fakeRepo) MarkJobOffered(ctx context.Context, tx pgx.Tx, jobID string) error {
	f.markedOffered = true
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
