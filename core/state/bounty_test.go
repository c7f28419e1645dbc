package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"zkbounty/native/bounty"
	"zkbounty/storage"
)

func TestBountyRecordSurvivesLevelDB(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	record := &bounty.Bounty{
		ID:             common.HexToHash("0x01"),
		Submitter:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		BountyType:     3,
		Reward:         uint256.MustFromDecimal("1000000000000000000"),
		CommitmentHash: common.HexToHash("0xabcd"),
		IsApproved:     true,
		ApprovedHunter: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		CreatedAt:      1_700_000_000,
	}
	engagement := &bounty.Engagement{
		Hunters: []common.Address{record.ApprovedHunter},
		Reports: []bounty.Submission{{Hunter: record.ApprovedHunter, Digest: common.HexToHash("0xabcd")}},
	}

	tx := NewManager(db).Begin()
	require.NoError(t, tx.BountyPut(record))
	require.NoError(t, tx.EngagementPut(record.ID, engagement))
	require.NoError(t, tx.IssuerPut(record.Submitter))
	require.NoError(t, tx.Commit())
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	view := NewManager(reopened).Begin()
	defer view.Discard()

	got, ok, err := view.BountyGet(record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.ID, got.ID)
	require.Equal(t, record.Submitter, got.Submitter)
	require.Equal(t, record.BountyType, got.BountyType)
	require.True(t, record.Reward.Eq(got.Reward))
	require.Equal(t, record.CommitmentHash, got.CommitmentHash)
	require.True(t, got.IsApproved)
	require.Equal(t, record.ApprovedHunter, got.ApprovedHunter)
	require.Equal(t, record.CreatedAt, got.CreatedAt)

	g, ok, err := view.EngagementGet(record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, engagement.Hunters, g.Hunters)
	require.Equal(t, engagement.Reports, g.Reports)

	registered, err := view.IssuerExists(record.Submitter)
	require.NoError(t, err)
	require.True(t, registered)
}

func TestBountyIndexSlots(t *testing.T) {
	tx := NewManager(storage.NewMemDB()).Begin()
	id := common.HexToHash("0x42")

	_, ok, err := tx.BountyIndexAt(0)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tx.SetBountyIndexAt(0, id))
	require.NoError(t, tx.SetBountyIndexPosition(id, 0))
	require.NoError(t, tx.SetBountyIndexLen(1))

	n, err := tx.BountyIndexLen()
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
	at, ok, err := tx.BountyIndexAt(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, at)
	pos, ok, err := tx.BountyIndexPosition(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), pos)

	require.NoError(t, tx.DeleteBountyIndexAt(0))
	require.NoError(t, tx.DeleteBountyIndexPosition(id))
	require.NoError(t, tx.SetBountyIndexLen(0))
	n, err = tx.BountyIndexLen()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEngineRunsOnTx(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	issuer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	hunter := common.HexToAddress("0x2222222222222222222222222222222222222222")
	commitment := common.HexToHash("0xfeed")

	engine := bounty.NewEngine()
	tx := mgr.Begin()
	engine.SetState(tx)
	require.NoError(t, engine.Credit(issuer, uint256.NewInt(100)))
	require.NoError(t, engine.RegisterIssuer(issuer))
	b, err := engine.SubmitBounty(issuer, 1, uint256.NewInt(60), commitment, uint256.NewInt(60))
	require.NoError(t, err)
	require.NoError(t, engine.SubmitReport(hunter, b.ID, commitment))
	require.NoError(t, tx.Commit())

	tx = mgr.Begin()
	engine.SetState(tx)
	approved, err := engine.FinalizeReport(issuer, b.ID, hunter, commitment)
	require.NoError(t, err)
	require.True(t, approved)
	require.NoError(t, tx.Commit())

	view := mgr.Begin()
	defer view.Discard()
	engine.SetState(view)
	bal, err := engine.Balance(hunter)
	require.NoError(t, err)
	require.Equal(t, uint64(60), bal.Uint64())
	vault, err := engine.VaultBalance()
	require.NoError(t, err)
	require.True(t, vault.IsZero())
	has, err := db.Has(EscrowKey(b.ID))
	require.NoError(t, err)
	require.False(t, has, "released escrow must be removed")
}
