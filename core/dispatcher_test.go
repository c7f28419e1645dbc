package core

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"zkbounty/core/events"
	"zkbounty/core/state"
	"zkbounty/core/types"
	"zkbounty/native/bounty"
	"zkbounty/storage"
)

type eventRecorder struct {
	mu    sync.Mutex
	types []string
}

func (r *eventRecorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, evt.EventType())
}

func (r *eventRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

func testAddr(fill byte) types.Principal {
	return common.BytesToAddress(bytes.Repeat([]byte{fill}, 20))
}

func testDigest(fill byte) types.Digest {
	return common.BytesToHash(bytes.Repeat([]byte{fill}, 32))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *eventRecorder, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	rec := &eventRecorder{}
	d, err := NewDispatcher(state.NewManager(db),
		WithEmitter(rec),
		WithNowFunc(func() int64 { return 1_700_000_000 }),
	)
	require.NoError(t, err)
	return d, rec, db
}

func seedGenesis(t *testing.T, d *Dispatcher, issuer types.Principal, funded ...types.Principal) {
	t.Helper()
	genesis := types.Genesis{Issuers: []types.Principal{issuer}}
	for _, addr := range append([]types.Principal{issuer}, funded...) {
		genesis.Allocations = append(genesis.Allocations, types.Allocation{Address: addr, Amount: uint256.NewInt(1_000)})
	}
	applied, err := d.ApplyGenesis(context.Background(), genesis)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestNewDispatcherRequiresState(t *testing.T) {
	_, err := NewDispatcher(nil)
	require.ErrorIs(t, err, ErrNilState)
}

func TestApplyGenesisOnce(t *testing.T) {
	ctx := context.Background()
	d, rec, _ := newTestDispatcher(t)
	issuer := testAddr(0x11)
	seedGenesis(t, d, issuer)

	registered, err := d.IsRegisteredIssuer(ctx, issuer)
	require.NoError(t, err)
	require.True(t, registered)
	acct, err := d.Account(ctx, issuer)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), acct.Balance.Uint64())
	require.Equal(t, []string{bounty.EventTypeIssuerRegistered}, rec.snapshot())

	again, err := d.ApplyGenesis(ctx, types.Genesis{
		Allocations: []types.Allocation{{Address: issuer, Amount: uint256.NewInt(5)}},
	})
	require.NoError(t, err)
	require.False(t, again)
	acct, err = d.Account(ctx, issuer)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), acct.Balance.Uint64())
}

func TestFailedGenesisLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	d, rec, db := newTestDispatcher(t)
	issuer := testAddr(0x11)

	// The duplicate issuer fails after the allocation has been credited.
	_, err := d.ApplyGenesis(ctx, types.Genesis{
		Allocations: []types.Allocation{{Address: issuer, Amount: uint256.NewInt(1_000)}},
		Issuers:     []types.Principal{issuer, issuer},
	})
	require.ErrorIs(t, err, bounty.ErrIssuerAlreadyRegistered)
	require.Zero(t, db.Len())
	require.Empty(t, rec.snapshot())

	acct, err := d.Account(ctx, issuer)
	require.NoError(t, err)
	require.True(t, acct.Balance.IsZero())
	registered, err := d.IsRegisteredIssuer(ctx, issuer)
	require.NoError(t, err)
	require.False(t, registered)

	// A corrected genesis still applies afterwards.
	seedGenesis(t, d, issuer)
}

func TestDispatcherBountyLifecycle(t *testing.T) {
	ctx := context.Background()
	d, rec, _ := newTestDispatcher(t)
	issuer, hunter := testAddr(0x11), testAddr(0x22)
	seedGenesis(t, d, issuer)

	reward := uint256.NewInt(400)
	b, err := d.SubmitBounty(ctx, issuer, 1, reward, testDigest(0xc0), reward)
	require.NoError(t, err)

	ids, err := d.GetBountyIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.Digest{b.ID}, ids)
	first, err := d.GetBountyAtIndex(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, b.ID, first)
	held, err := d.EscrowBalance(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(400), held.Uint64())

	report := bounty.DigestReport(d.Hasher(), []byte("overflow in withdraw()"))
	require.NoError(t, d.SubmitReport(ctx, hunter, b.ID, report))
	hunters, err := d.GetHuntersInBounty(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, []types.Principal{hunter}, hunters)
	stored, err := d.GetReportHash(ctx, b.ID, hunter)
	require.NoError(t, err)
	require.Equal(t, report, stored)

	approved, err := d.FinalizeReport(ctx, issuer, b.ID, hunter, report)
	require.NoError(t, err)
	require.True(t, approved)

	got, err := d.GetBounty(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, got.IsApproved)
	require.Equal(t, hunter, got.ApprovedHunter)
	gotReward, err := d.GetBountyReward(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(400), gotReward.Uint64())

	paid, err := d.Account(ctx, hunter)
	require.NoError(t, err)
	require.Equal(t, uint64(400), paid.Balance.Uint64())
	vault, err := d.VaultBalance(ctx)
	require.NoError(t, err)
	require.True(t, vault.IsZero())

	_, err = d.WithdrawUnapprovedBounty(ctx, issuer, b.ID)
	require.ErrorIs(t, err, bounty.ErrAlreadyApproved)

	require.Equal(t, []string{
		bounty.EventTypeIssuerRegistered,
		bounty.EventTypeBountySubmitted,
		bounty.EventTypeHunterRegistered,
		bounty.EventTypeReportSubmitted,
		bounty.EventTypeReportApproved,
	}, rec.snapshot())
}

func TestDispatcherRejectedOperationEmitsNothing(t *testing.T) {
	ctx := context.Background()
	d, rec, db := newTestDispatcher(t)
	issuer := testAddr(0x11)
	seedGenesis(t, d, issuer)
	before := len(rec.snapshot())
	keys := db.Len()

	_, err := d.SubmitBounty(ctx, issuer, 0, uint256.NewInt(5_000), testDigest(0xc0), uint256.NewInt(5_000))
	require.ErrorIs(t, err, bounty.ErrInsufficientFunds)
	_, err = d.SubmitBounty(ctx, testAddr(0x33), 0, uint256.NewInt(1), testDigest(0xc0), uint256.NewInt(1))
	require.ErrorIs(t, err, bounty.ErrNotRegisteredIssuer)

	require.Len(t, rec.snapshot(), before)
	require.Equal(t, keys, db.Len())
}

func TestDispatcherMismatchCommitsReset(t *testing.T) {
	ctx := context.Background()
	d, rec, _ := newTestDispatcher(t)
	issuer, hunter := testAddr(0x11), testAddr(0x22)
	seedGenesis(t, d, issuer)

	b, err := d.SubmitBounty(ctx, issuer, 0, uint256.NewInt(10), testDigest(0xc0), uint256.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, d.SubmitReport(ctx, hunter, b.ID, testDigest(0x01)))

	approved, err := d.FinalizeReport(ctx, issuer, b.ID, hunter, testDigest(0x02))
	require.NoError(t, err)
	require.False(t, approved)

	hunters, err := d.GetHuntersInBounty(ctx, b.ID)
	require.NoError(t, err)
	require.Empty(t, hunters)
	reports, err := d.GetSubmittedReportsInBounty(ctx, b.ID)
	require.NoError(t, err)
	require.Empty(t, reports)
	evts := rec.snapshot()
	require.Equal(t, bounty.EventTypeReportRejected, evts[len(evts)-1])

	refunded, err := d.WithdrawUnapprovedBounty(ctx, issuer, b.ID)
	require.NoError(t, err)
	require.Equal(t, b.ID, refunded.ID)
	acct, err := d.Account(ctx, issuer)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), acct.Balance.Uint64())
}

func TestDispatcherHonoursCancelledContext(t *testing.T) {
	d, rec, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.RegisterIssuer(ctx, testAddr(0x11))
	require.True(t, errors.Is(err, context.Canceled))
	_, err = d.GetBountyIDs(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	require.Empty(t, rec.snapshot())
}

func TestDispatcherConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(t)
	issuer := testAddr(0x11)
	seedGenesis(t, d, issuer)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.SubmitBounty(ctx, issuer, uint8(i), uint256.NewInt(10), testDigest(0xc0), uint256.NewInt(10))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ids, err := d.GetBountyIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, workers)
	seen := make(map[types.Digest]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, workers)

	vault, err := d.VaultBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10*workers), vault.Uint64())
	acct, err := d.Account(ctx, issuer)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000-10*workers), acct.Balance.Uint64())
}
