package commit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offertory/internal/core"
	"offertory/internal/gateway"
	"offertory/internal/gateway/memory"
	"offertory/internal/ledger"
	"offertory/internal/staging"
	"offertory/internal/syncmark"
)

// recordingGateway wraps the memory gateway, capturing inserts and
// optionally failing or blocking them.
type recordingGateway struct {
	*memory.Store
	mu        sync.Mutex
	inserts   [][]core.OfferingRecord
	upserts   []core.Donor
	insertErr error
	block     chan struct{}
	entered   chan struct{}
}

func (g *recordingGateway) InsertRecords(ctx context.Context, records []core.OfferingRecord) ([]string, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	g.inserts = append(g.inserts, records)
	g.mu.Unlock()
	if g.insertErr != nil {
		return nil, g.insertErr
	}
	return g.Store.InsertRecords(ctx, records)
}

func (g *recordingGateway) UpsertDonor(ctx context.Context, d core.Donor) (core.Donor, error) {
	g.mu.Lock()
	g.upserts = append(g.upserts, d)
	g.mu.Unlock()
	return g.Store.UpsertDonor(ctx, d)
}

type noTransport struct{}

func (noTransport) Name() string { return "none" }
func (noTransport) Send(context.Context, string, []syncmark.Row) (syncmark.Delivery, error) {
	return syncmark.Delivery{}, errors.New("unused")
}

type captureNotifier struct{ events []Event }

func (c *captureNotifier) Committed(_ context.Context, e Event) error {
	c.events = append(c.events, e)
	return nil
}

type countInvalidator struct{ n int }

func (c *countInvalidator) Invalidate() { c.n++ }

type fixture struct {
	gw     *recordingGateway
	ledger *ledger.Ledger
	marker *syncmark.Marker
	engine *Engine
	notes  *captureNotifier
	inval  *countInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gw := &recordingGateway{Store: memory.New(nil)}
	local := staging.NewMemoryStore()
	l, err := ledger.Open(ctx, local)
	require.NoError(t, err)
	marker := syncmark.New(local, syncmark.NewEndpointStore(gw, local), noTransport{}, gw)
	notes := &captureNotifier{}
	inval := &countInvalidator{}
	return &fixture{
		gw:     gw,
		ledger: l,
		marker: marker,
		engine: NewEngine(gw, l, marker, WithNotifier(notes), WithInvalidator(inval)),
		notes:  notes,
		inval:  inval,
	}
}

func (f *fixture) add(t *testing.T, in ledger.AddInput) core.PendingItem {
	t.Helper()
	it, err := f.ledger.Add(context.Background(), in)
	require.NoError(t, err)
	return it
}

var sunday = core.NewDate(2025, 1, 5)

func TestCommitSingleItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, ledger.AddInput{Code: "11", CodeLabel: "십일조", Amount: "250", DonorText: "김용준"})

	res, err := f.engine.Commit(ctx, sunday)
	require.NoError(t, err)

	require.Len(t, f.gw.inserts, 1)
	batch := f.gw.inserts[0]
	require.Len(t, batch, 1)
	assert.Equal(t, int64(25000), batch[0].Amount.Cents)
	assert.Equal(t, "11", batch[0].Code)
	assert.Equal(t, "십일조", batch[0].CodeLabel)
	assert.Equal(t, sunday, batch[0].Date)

	assert.Equal(t, 0, f.ledger.Len())
	pending, err := f.marker.PendingIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.RecordIDs, pending)
	assert.Len(t, pending, 1)
	assert.Equal(t, Idle, f.engine.State())
	assert.Empty(t, res.Warning)
}

func TestCommitManyItemsMarksAllPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.add(t, ledger.AddInput{Code: "22", Amount: "10"})
	}
	res, err := f.engine.Commit(ctx, sunday)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Count)
	assert.Equal(t, int64(5000), res.Total.Cents)

	pending, _ := f.marker.PendingIDs(ctx)
	assert.Len(t, pending, 5)
	assert.Equal(t, 0, f.ledger.Len())

	require.Len(t, f.notes.events, 1)
	assert.Equal(t, 5, f.notes.events[0].Count)
	assert.Equal(t, 1, f.inval.n)
}

func TestCommitEmptyLedger(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Commit(context.Background(), sunday)
	require.ErrorIs(t, err, ErrEmptyLedger)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Empty(t, f.gw.inserts)
}

func TestCommitInvalidDate(t *testing.T) {
	f := newFixture(t)
	f.add(t, ledger.AddInput{Code: "11", Amount: "1"})
	_, err := f.engine.Commit(context.Background(), core.Date{})
	require.ErrorIs(t, err, core.ErrInvalidDate)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestCommitFailureLeavesLedgerIntact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, ledger.AddInput{Code: "11", Amount: "250", DonorText: "김용준"})
	f.add(t, ledger.AddInput{Code: "29", Amount: "50"})
	before := f.ledger.Items()

	f.gw.insertErr = errors.New("connection refused")
	_, err := f.engine.Commit(ctx, sunday)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistence)

	assert.Equal(t, before, f.ledger.Items())
	pending, _ := f.marker.PendingIDs(ctx)
	assert.Empty(t, pending)
	assert.Empty(t, f.notes.events)
	assert.Equal(t, Idle, f.engine.State())

	// retry succeeds without re-entry
	f.gw.insertErr = nil
	res, err := f.engine.Commit(ctx, sunday)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
}

func TestCommitResolvesDonors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	existing, err := f.gw.Store.UpsertDonor(ctx, core.Donor{Name: "장말순", OfferingNumber: "320"})
	require.NoError(t, err)
	f.gw.upserts = nil

	f.add(t, ledger.AddInput{Code: "29", Amount: "50", DonorText: "장말순"})
	f.add(t, ledger.AddInput{Code: "29", Amount: "10", DonorText: "새신자"})
	f.add(t, ledger.AddInput{Code: "22", Amount: "20", DonorText: "새신자"})
	f.add(t, ledger.AddInput{Code: "22", Amount: "30"})
	f.add(t, ledger.AddInput{Code: "11", Amount: "40", Donor: &core.Donor{ID: "777", Name: "김진", OfferingNumber: "101"}})

	res, err := f.engine.Commit(ctx, sunday)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DonorsCreated)

	require.Len(t, f.gw.upserts, 1, "one donor per distinct new name")
	assert.Equal(t, "새신자", f.gw.upserts[0].Name)

	batch := f.gw.inserts[0]
	assert.Equal(t, existing.ID, batch[0].DonorID)
	assert.Equal(t, "320", batch[0].OfferingNumber)
	assert.NotEmpty(t, batch[1].DonorID)
	assert.Equal(t, batch[1].DonorID, batch[2].DonorID)
	assert.Empty(t, batch[3].DonorID, "anonymous is not provisioned")
	assert.Equal(t, core.AnonymousName, batch[3].DonorName)
	assert.Equal(t, "777", batch[4].DonorID, "selected donor id is kept as-is")
}

func TestCommitIgnoresInactiveDonorMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old, err := f.gw.Store.UpsertDonor(ctx, core.Donor{Name: "홍길동"})
	require.NoError(t, err)
	require.NoError(t, f.gw.DeactivateDonor(ctx, old.ID))

	f.add(t, ledger.AddInput{Code: "11", Amount: "1", DonorText: "홍길동"})
	res, err := f.engine.Commit(ctx, sunday)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DonorsCreated)
	assert.NotEqual(t, old.ID, f.gw.inserts[0][0].DonorID)
}

func TestConcurrentCommitIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.block = make(chan struct{})
	f.gw.entered = make(chan struct{}, 1)
	f.add(t, ledger.AddInput{Code: "11", Amount: "1"})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Commit(ctx, sunday)
		done <- err
	}()
	<-f.gw.entered
	assert.Equal(t, Submitting, f.engine.State())

	_, err := f.engine.Commit(ctx, sunday)
	assert.ErrorIs(t, err, ErrCommitInFlight)

	close(f.gw.block)
	require.NoError(t, <-done)
	assert.Equal(t, Idle, f.engine.State())
	assert.Len(t, f.gw.inserts, 1)
}

func TestCommitKeepsItemsAddedDuringSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.block = make(chan struct{})
	f.gw.entered = make(chan struct{}, 1)
	f.add(t, ledger.AddInput{Code: "11", Amount: "1"})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Commit(ctx, sunday)
		done <- err
	}()
	<-f.gw.entered
	late := f.add(t, ledger.AddInput{Code: "22", Amount: "2"})
	close(f.gw.block)
	require.NoError(t, <-done)

	items := f.ledger.Items()
	require.Len(t, items, 1)
	assert.Equal(t, late.ID, items[0].ID)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "submitting", Submitting.String())
}

var _ gateway.DonorStore = (*recordingGateway)(nil)
