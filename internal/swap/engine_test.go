package swap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/menjalnica/internal/db"
	"github.com/erazemk/menjalnica/internal/model"
	"github.com/erazemk/menjalnica/internal/notify"
	"github.com/erazemk/menjalnica/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recordingSink) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) of(typ string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	db     *sql.DB
	engine *Engine
	sink   *recordingSink
	clock  *clock
}

func newFixture(t *testing.T, database *sql.DB) *fixture {
	t.Helper()
	sink := &recordingSink{}
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := New(database, sink)
	e.Now = c.Now
	return &fixture{db: database, engine: e, sink: sink, clock: c}
}

func (f *fixture) member(t *testing.T, name string, points int64) *model.Member {
	t.Helper()
	m, err := store.CreateMember(context.Background(), f.db, store.MemberAttrs{
		Email:        name + "@example.com",
		DisplayName:  name,
		PasswordHash: "not-a-real-hash",
	}, points)
	require.NoError(t, err)
	return m
}

func (f *fixture) item(t *testing.T, ownerID, title string, points int64) *model.Item {
	t.Helper()
	item, err := store.CreateItem(context.Background(), f.db, ownerID, store.ItemAttrs{
		Title:       title,
		Category:    model.CategoryUnisex,
		Condition:   model.ConditionGood,
		PointsValue: points,
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) balance(t *testing.T, memberID string) int64 {
	t.Helper()
	b, err := store.GetBalance(context.Background(), f.db, memberID)
	require.NoError(t, err)
	return b
}

func (f *fixture) itemState(t *testing.T, id string) *model.Item {
	t.Helper()
	item, err := store.GetItem(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)
	scarf := f.item(t, bor.ID, "Scarf", 10)
	anaBoots := f.item(t, ana.ID, "Boots", 10)

	tests := []struct {
		name string
		p    CreateParams
		want error
	}{
		{"missing item", CreateParams{RequesterID: bor.ID, RequestedItemID: "nope", IsPointSwap: true}, model.ErrNotFound},
		{"self swap", CreateParams{RequesterID: ana.ID, RequestedItemID: jacket.ID, IsPointSwap: true}, model.ErrSelfSwap},
		{"owner mismatch", CreateParams{RequesterID: bor.ID, OwnerID: bor.ID, RequestedItemID: jacket.ID, IsPointSwap: true}, model.ErrValidation},
		{"neither offer", CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID}, model.ErrValidation},
		{"both offers", CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, OfferedItemID: scarf.ID, IsPointSwap: true}, model.ErrValidation},
		{"offer not mine", CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, OfferedItemID: anaBoots.ID}, model.ErrInvalidOffer},
		{"offer missing", CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, OfferedItemID: "nope"}, model.ErrInvalidOffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Create(ctx, tt.p)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	swaps, err := store.ListSwaps(ctx, f.db, bor.ID, store.SwapsAll, "")
	require.NoError(t, err)
	assert.Empty(t, swaps, "rejected requests must not be stored")
	assert.Empty(t, f.sink.events)
}

func TestSelfSwapCreatesNothing(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)

	_, err := f.engine.Create(ctx, CreateParams{RequesterID: ana.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.ErrorIs(t, err, model.ErrSelfSwap)
	assert.ErrorIs(t, err, model.ErrValidation)

	swaps, _ := store.ListSwaps(ctx, f.db, ana.ID, store.SwapsAll, "")
	assert.Empty(t, swaps)
	assert.Equal(t, model.ItemAvailable, f.itemState(t, jacket.ID).Status)
}

func TestCreateDuplicateRequest(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)

	p := CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, IsPointSwap: true}
	sr, err := f.engine.Create(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, model.SwapPending, sr.Status)
	assert.Equal(t, ana.ID, sr.OwnerID)
	assert.Equal(t, model.ItemAvailable, f.itemState(t, jacket.ID).Status, "creating a request must not reserve")

	_, err = f.engine.Create(ctx, p)
	assert.ErrorIs(t, err, model.ErrDuplicateRequest)

	// Once the first is cancelled a new request is fine.
	_, err = f.engine.Cancel(ctx, sr.ID, bor.ID)
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, p)
	assert.NoError(t, err)

	require.Len(t, f.sink.of(model.NotifySwapRequested), 2)
	assert.Equal(t, ana.ID, f.sink.of(model.NotifySwapRequested)[0].RecipientID)
}

func TestCreateUnavailableItem(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	cene := f.member(t, "cene", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, sr.ID, ana.ID)
	require.NoError(t, err)

	_, err = f.engine.Create(ctx, CreateParams{RequesterID: cene.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	assert.ErrorIs(t, err, model.ErrItemUnavailable)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestAcceptRequiresOwner(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.NoError(t, err)

	_, err = f.engine.Accept(ctx, sr.ID, bor.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.engine.Accept(ctx, "missing", ana.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	accepted, err := f.engine.Accept(ctx, sr.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapAccepted, accepted.Status)
	assert.NotNil(t, accepted.AcceptedAt)
	assert.Equal(t, model.ItemReserved, f.itemState(t, jacket.ID).Status)

	// Accepting twice is a state mismatch.
	_, err = f.engine.Accept(ctx, sr.ID, ana.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestAcceptDeclinesCompetingRequests(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)

	var reqs []*model.SwapRequest
	for _, name := range []string{"bor", "cene", "dora"} {
		m := f.member(t, name, 0)
		sr, err := f.engine.Create(ctx, CreateParams{RequesterID: m.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
		require.NoError(t, err)
		reqs = append(reqs, sr)
	}

	_, err := f.engine.Accept(ctx, reqs[0].ID, ana.ID)
	require.NoError(t, err)

	for _, sr := range reqs[1:] {
		got, err := store.GetSwap(ctx, f.db, sr.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SwapDeclined, got.Status)
		assert.Equal(t, model.CloseSuperseded, got.CloseReason)

		_, err = f.engine.Accept(ctx, sr.ID, ana.ID)
		assert.ErrorIs(t, err, model.ErrConflict)
	}

	declined := f.sink.of(model.NotifySwapDeclined)
	require.Len(t, declined, 2)
	assert.ElementsMatch(t,
		[]string{reqs[1].RequesterID, reqs[2].RequesterID},
		[]string{declined[0].RecipientID, declined[1].RecipientID},
	)
	require.Len(t, f.sink.of(model.NotifySwapAccepted), 1)
	assert.Equal(t, reqs[0].RequesterID, f.sink.of(model.NotifySwapAccepted)[0].RecipientID)
}

func TestAcceptDeclinesRequestsOfferingReservedItem(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	cene := f.member(t, "cene", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)
	scarf := f.item(t, bor.ID, "Scarf", 10)
	hat := f.item(t, cene.ID, "Hat", 10)

	// bor offers the scarf to ana and, separately, to cene.
	first, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, OfferedItemID: scarf.ID})
	require.NoError(t, err)
	second, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: hat.ID, OfferedItemID: scarf.ID})
	require.NoError(t, err)

	_, err = f.engine.Accept(ctx, first.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemReserved, f.itemState(t, scarf.ID).Status)

	got, _ := store.GetSwap(ctx, f.db, second.ID)
	assert.Equal(t, model.SwapDeclined, got.Status)
	assert.Equal(t, model.CloseSuperseded, got.CloseReason)
}

func TestConcurrentAcceptsReserveOnce(t *testing.T) {
	fileDB := func(t *testing.T) *sql.DB {
		database, err := db.Open(filepath.Join(t.TempDir(), "swap.db"))
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		require.NoError(t, db.Migrate(database))
		return database
	}

	for name, open := range map[string]func(*testing.T) *sql.DB{
		"memory": func(t *testing.T) *sql.DB { return db.NewTestDB(t) },
		"file":   fileDB,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, open(t))
			ctx := context.Background()
			ana := f.member(t, "ana", 0)
			jacket := f.item(t, ana.ID, "Jacket", 30)

			const n = 8
			ids := make([]string, n)
			for i := range ids {
				m := f.member(t, fmt.Sprintf("m%d", i), 0)
				sr, err := f.engine.Create(ctx, CreateParams{RequesterID: m.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
				require.NoError(t, err)
				ids[i] = sr.ID
			}

			errs := make([]error, n)
			var wg sync.WaitGroup
			for i, id := range ids {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = f.engine.Accept(ctx, id, ana.ID)
				}()
			}
			wg.Wait()

			var ok int
			for _, err := range errs {
				if err == nil {
					ok++
					continue
				}
				assert.ErrorIs(t, err, model.ErrConflict)
			}
			assert.Equal(t, 1, ok, "exactly one accept must win")

			accepted, err := store.ListSwaps(ctx, f.db, ana.ID, store.SwapsIncoming, model.SwapAccepted)
			require.NoError(t, err)
			assert.Len(t, accepted, 1)
			assert.Equal(t, model.ItemReserved, f.itemState(t, jacket.ID).Status)
		})
	}
}

func TestDeclineAndCancel(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)
	coat := f.item(t, ana.ID, "Coat", 30)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.NoError(t, err)

	_, err = f.engine.Decline(ctx, sr.ID, bor.ID)
	assert.ErrorIs(t, err, model.ErrForbidden, "requester cannot decline")

	declined, err := f.engine.Decline(ctx, sr.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapDeclined, declined.Status)
	assert.Equal(t, model.CloseByOwner, declined.CloseReason)

	_, err = f.engine.Cancel(ctx, sr.ID, bor.ID)
	assert.ErrorIs(t, err, model.ErrForbidden, "terminal requests cannot move")

	sr2, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: coat.ID, IsPointSwap: true})
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, sr2.ID, ana.ID)
	assert.ErrorIs(t, err, model.ErrForbidden, "owner cannot cancel")

	cancelled, err := f.engine.Cancel(ctx, sr2.ID, bor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapCancelled, cancelled.Status)
	assert.Equal(t, model.CloseByRequester, cancelled.CloseReason)

	assert.Len(t, f.sink.of(model.NotifySwapDeclined), 1)
	assert.Len(t, f.sink.of(model.NotifySwapCancelled), 1)
}

func TestCancelAcceptedIsForbidden(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)

	sr, _ := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	_, err := f.engine.Accept(ctx, sr.ID, ana.ID)
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, sr.ID, bor.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Equal(t, model.ItemReserved, f.itemState(t, jacket.ID).Status)
}

func TestCompletePointSwap(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	owner := f.member(t, "owner", 0)
	requester := f.member(t, "requester", 100)
	jacket := f.item(t, owner.ID, "Jacket", 50)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: requester.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.NoError(t, err)

	_, err = f.engine.Complete(ctx, sr.ID, requester.ID)
	assert.ErrorIs(t, err, model.ErrForbidden, "pending requests cannot complete")

	_, err = f.engine.Accept(ctx, sr.ID, owner.ID)
	require.NoError(t, err)

	stranger := f.member(t, "stranger", 0)
	_, err = f.engine.Complete(ctx, sr.ID, stranger.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	done, err := f.engine.Complete(ctx, sr.ID, requester.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapCompleted, done.Status)
	assert.NotNil(t, done.ClosedAt)

	assert.EqualValues(t, 50, f.balance(t, requester.ID))
	assert.EqualValues(t, 50, f.balance(t, owner.ID))

	item := f.itemState(t, jacket.ID)
	assert.Equal(t, model.ItemSwapped, item.Status)
	assert.Equal(t, requester.ID, item.OwnerID)

	entries, err := store.ListPointEntries(ctx, f.db, requester.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, model.PointsSwapDebit, entries[0].Reason)
	require.NotNil(t, entries[0].SwapID)
	assert.Equal(t, sr.ID, *entries[0].SwapID)

	completed := f.sink.of(model.NotifySwapCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, owner.ID, completed[0].RecipientID)
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	owner := f.member(t, "owner", 0)
	requester := f.member(t, "requester", 100)
	jacket := f.item(t, owner.ID, "Jacket", 50)

	sr, _ := f.engine.Create(ctx, CreateParams{RequesterID: requester.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	_, err := f.engine.Accept(ctx, sr.ID, owner.ID)
	require.NoError(t, err)

	_, err = f.engine.Complete(ctx, sr.ID, owner.ID)
	require.NoError(t, err)
	again, err := f.engine.Complete(ctx, sr.ID, requester.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapCompleted, again.Status)

	assert.EqualValues(t, 50, f.balance(t, requester.ID))
	assert.EqualValues(t, 50, f.balance(t, owner.ID))
	assert.Len(t, f.sink.of(model.NotifySwapCompleted), 1, "a repeated completion notifies nobody")
}

func TestCompleteItemSwap(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 20)
	bor := f.member(t, "bor", 20)
	jacket := f.item(t, ana.ID, "Jacket", 30)
	scarf := f.item(t, bor.ID, "Scarf", 10)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, OfferedItemID: scarf.ID})
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, sr.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemReserved, f.itemState(t, scarf.ID).Status)

	_, err = f.engine.Complete(ctx, sr.ID, ana.ID)
	require.NoError(t, err)

	j := f.itemState(t, jacket.ID)
	s := f.itemState(t, scarf.ID)
	assert.Equal(t, bor.ID, j.OwnerID)
	assert.Equal(t, ana.ID, s.OwnerID)
	assert.Equal(t, model.ItemSwapped, j.Status)
	assert.Equal(t, model.ItemSwapped, s.Status)

	assert.EqualValues(t, 20, f.balance(t, ana.ID), "item swaps leave points alone")
	assert.EqualValues(t, 20, f.balance(t, bor.ID))
}

func TestCompleteInsufficientFunds(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	owner := f.member(t, "owner", 5)
	requester := f.member(t, "requester", 10)
	jacket := f.item(t, owner.ID, "Jacket", 50)

	sr, _ := f.engine.Create(ctx, CreateParams{RequesterID: requester.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	_, err := f.engine.Accept(ctx, sr.ID, owner.ID)
	require.NoError(t, err)

	_, err = f.engine.Complete(ctx, sr.ID, requester.ID)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	got, _ := store.GetSwap(ctx, f.db, sr.ID)
	assert.Equal(t, model.SwapAccepted, got.Status)
	assert.EqualValues(t, 10, f.balance(t, requester.ID))
	assert.EqualValues(t, 5, f.balance(t, owner.ID))

	item := f.itemState(t, jacket.ID)
	assert.Equal(t, model.ItemReserved, item.Status)
	assert.Equal(t, owner.ID, item.OwnerID)
}

func TestAcceptRollsBackWhenOfferedItemTaken(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)
	scarf := f.item(t, bor.ID, "Scarf", 10)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, OfferedItemID: scarf.ID})
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, f.db, func(tx *sql.Tx) error {
		return store.ReserveItem(ctx, tx, scarf.ID, bor.ID, f.clock.Now())
	}))

	_, err = f.engine.Accept(ctx, sr.ID, ana.ID)
	require.ErrorIs(t, err, model.ErrConflict)

	assert.Equal(t, model.ItemAvailable, f.itemState(t, jacket.ID).Status, "first reservation must be undone")
	got, err := store.GetSwap(ctx, f.db, sr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapPending, got.Status)
	assert.Nil(t, got.AcceptedAt)
	assert.Empty(t, f.sink.of(model.NotifySwapAccepted))
}

func TestCompleteItemSwapIsAllOrNothing(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)
	scarf := f.item(t, bor.ID, "Scarf", 10)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, OfferedItemID: scarf.ID})
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, sr.ID, ana.ID)
	require.NoError(t, err)

	// Complete finalizes the jacket before it reaches the scarf, so the
	// failure on the scarf must undo the jacket too.
	require.NoError(t, store.WithTx(ctx, f.db, func(tx *sql.Tx) error {
		return store.ReleaseItem(ctx, tx, scarf.ID, f.clock.Now())
	}))

	_, err = f.engine.Complete(ctx, sr.ID, ana.ID)
	require.ErrorIs(t, err, model.ErrConflict)

	j := f.itemState(t, jacket.ID)
	s := f.itemState(t, scarf.ID)
	assert.Equal(t, ana.ID, j.OwnerID)
	assert.Equal(t, model.ItemReserved, j.Status)
	assert.Equal(t, bor.ID, s.OwnerID)
	assert.Equal(t, model.ItemAvailable, s.Status)

	got, err := store.GetSwap(ctx, f.db, sr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapAccepted, got.Status)
	assert.Empty(t, f.sink.of(model.NotifySwapCompleted))
}

func TestCompleteUsesEngineClock(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	owner := f.member(t, "owner", 0)
	requester := f.member(t, "requester", 100)
	jacket := f.item(t, owner.ID, "Jacket", 50)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: requester.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.engine.Accept(ctx, sr.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, f.itemState(t, jacket.ID).UpdatedAt.Equal(f.clock.Now()))

	f.clock.Advance(time.Hour)
	done, err := f.engine.Complete(ctx, sr.ID, requester.ID)
	require.NoError(t, err)
	at := f.clock.Now()
	require.NotNil(t, done.ClosedAt)
	assert.True(t, done.ClosedAt.Equal(at))
	assert.True(t, f.itemState(t, jacket.ID).UpdatedAt.Equal(at))

	for _, m := range []*model.Member{owner, requester} {
		entries, err := store.ListPointEntries(ctx, f.db, m.ID)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		assert.True(t, entries[0].CreatedAt.Equal(at), "journal entry at %v, want %v", entries[0].CreatedAt, at)
	}
}

func TestDeactivateMemberClosesOpenRequests(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	cid := f.member(t, "cid", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)
	coat := f.item(t, ana.ID, "Coat", 40)
	hat := f.item(t, ana.ID, "Hat", 5)
	boots := f.item(t, bor.ID, "Boots", 20)
	scarf := f.item(t, cid.ID, "Scarf", 10)

	incoming, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.NoError(t, err)
	accepted, err := f.engine.Create(ctx, CreateParams{RequesterID: cid.ID, RequestedItemID: coat.ID, OfferedItemID: scarf.ID})
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, accepted.ID, ana.ID)
	require.NoError(t, err)
	outgoing, err := f.engine.Create(ctx, CreateParams{RequesterID: ana.ID, RequestedItemID: boots.ID, IsPointSwap: true})
	require.NoError(t, err)

	closed, err := f.engine.DeactivateMember(ctx, ana.ID)
	require.NoError(t, err)
	assert.Len(t, closed, 3)

	member, err := store.GetMember(ctx, f.db, ana.ID)
	require.NoError(t, err)
	assert.False(t, member.Active())

	for _, c := range []struct {
		id   string
		want model.SwapStatus
	}{
		{incoming.ID, model.SwapDeclined},
		{accepted.ID, model.SwapCancelled},
		{outgoing.ID, model.SwapCancelled},
	} {
		got, err := store.GetSwap(ctx, f.db, c.id)
		require.NoError(t, err)
		assert.Equal(t, c.want, got.Status)
		assert.Equal(t, model.CloseDeactivated, got.CloseReason)
	}

	assert.Equal(t, model.ItemAvailable, f.itemState(t, coat.ID).Status)
	assert.Equal(t, model.ItemAvailable, f.itemState(t, scarf.ID).Status, "the counterparty's item is released")

	declined := f.sink.of(model.NotifySwapDeclined)
	require.Len(t, declined, 1)
	assert.Equal(t, bor.ID, declined[0].RecipientID)
	cancelled := f.sink.of(model.NotifySwapCancelled)
	require.Len(t, cancelled, 2)
	assert.ElementsMatch(t, []string{cid.ID, bor.ID}, []string{cancelled[0].RecipientID, cancelled[1].RecipientID})

	items, err := store.ListItems(ctx, f.db, store.ItemFilter{})
	require.NoError(t, err)
	for _, it := range items {
		assert.NotEqual(t, ana.ID, it.OwnerID, "items of a deactivated member stay hidden")
	}

	_, err = f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: hat.ID, IsPointSwap: true})
	require.ErrorIs(t, err, model.ErrForbidden)
	open, err := store.HasOpenSwap(ctx, f.db, bor.ID, hat.ID)
	require.NoError(t, err)
	assert.False(t, open)

	again, err := f.engine.DeactivateMember(ctx, ana.ID)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = f.engine.DeactivateMember(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSinkFailureDoesNotFailTransitions(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	f.sink.err = errors.New("sink down")
	ctx := context.Background()
	owner := f.member(t, "owner", 0)
	requester := f.member(t, "requester", 100)
	jacket := f.item(t, owner.ID, "Jacket", 50)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: requester.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, sr.ID, owner.ID)
	require.NoError(t, err)
	_, err = f.engine.Complete(ctx, sr.ID, requester.ID)
	require.NoError(t, err)

	assert.NotEmpty(t, f.sink.events, "delivery was still attempted")
	assert.EqualValues(t, 50, f.balance(t, owner.ID))
}

func TestExpireReleasesReservations(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)
	scarf := f.item(t, bor.ID, "Scarf", 10)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, OfferedItemID: scarf.ID})
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, sr.ID, ana.ID)
	require.NoError(t, err)

	expired, err := f.engine.Expire(ctx, sr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapCancelled, expired.Status)
	assert.Equal(t, model.CloseExpired, expired.CloseReason)
	assert.Equal(t, model.ItemAvailable, f.itemState(t, jacket.ID).Status)
	assert.Equal(t, model.ItemAvailable, f.itemState(t, scarf.ID).Status)
	assert.Len(t, f.sink.of(model.NotifySwapExpired), 2)

	_, err = f.engine.Expire(ctx, sr.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestSweep(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)
	coat := f.item(t, ana.ID, "Coat", 30)
	hat := f.item(t, ana.ID, "Hat", 30)

	stalePending, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.NoError(t, err)
	staleAccepted, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: coat.ID, IsPointSwap: true})
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, staleAccepted.ID, ana.ID)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	fresh, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: hat.ID, IsPointSwap: true})
	require.NoError(t, err)

	n, err := f.engine.Sweep(ctx, SweepPolicy{})
	require.NoError(t, err)
	assert.Zero(t, n, "zero TTLs disable expiry")

	n, err = f.engine.Sweep(ctx, SweepPolicy{PendingTTL: time.Hour, AcceptedTTL: 2 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := store.GetSwap(ctx, f.db, stalePending.ID)
	assert.Equal(t, model.SwapDeclined, got.Status)
	assert.Equal(t, model.CloseExpired, got.CloseReason)

	got, _ = store.GetSwap(ctx, f.db, staleAccepted.ID)
	assert.Equal(t, model.SwapCancelled, got.Status)
	assert.Equal(t, model.ItemAvailable, f.itemState(t, coat.ID).Status)

	got, _ = store.GetSwap(ctx, f.db, fresh.ID)
	assert.Equal(t, model.SwapPending, got.Status)
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	ana := f.member(t, "ana", 0)
	bor := f.member(t, "bor", 0)
	cene := f.member(t, "cene", 0)
	jacket := f.item(t, ana.ID, "Jacket", 30)

	sr, err := f.engine.Create(ctx, CreateParams{RequesterID: bor.ID, RequestedItemID: jacket.ID, IsPointSwap: true})
	require.NoError(t, err)

	got, err := f.engine.Get(ctx, sr.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, sr.ID, got.ID)

	_, err = f.engine.Get(ctx, sr.ID, cene.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)
	_, err = f.engine.Get(ctx, "missing", ana.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	in, err := f.engine.List(ctx, ana.ID, Filter{Direction: store.SwapsIncoming})
	require.NoError(t, err)
	assert.Len(t, in, 1)
	out, err := f.engine.List(ctx, ana.ID, Filter{Direction: store.SwapsOutgoing})
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = f.engine.List(ctx, ana.ID, Filter{Direction: "sideways"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.engine.List(ctx, ana.ID, Filter{Status: "lost"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestJournalSumMatchesBalance(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()
	owner := f.member(t, "owner", 50)
	requester := f.member(t, "requester", 100)

	for _, title := range []string{"Jacket", "Coat"} {
		item := f.item(t, owner.ID, title, 30)
		sr, err := f.engine.Create(ctx, CreateParams{RequesterID: requester.ID, RequestedItemID: item.ID, IsPointSwap: true})
		require.NoError(t, err)
		_, err = f.engine.Accept(ctx, sr.ID, owner.ID)
		require.NoError(t, err)
		_, err = f.engine.Complete(ctx, sr.ID, owner.ID)
		require.NoError(t, err)
	}

	for _, m := range []*model.Member{owner, requester} {
		entries, err := store.ListPointEntries(ctx, f.db, m.ID)
		require.NoError(t, err)
		var sum int64
		for _, e := range entries {
			sum += e.Delta
		}
		assert.Equal(t, f.balance(t, m.ID), sum)
	}
	assert.EqualValues(t, 40, f.balance(t, requester.ID))
	assert.EqualValues(t, 110, f.balance(t, owner.ID))
}
