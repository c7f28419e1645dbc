package bounty

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"zkbounty/core/events"
	"zkbounty/core/types"
)

type issuerStore interface {
	IssuerExists(addr Principal) (bool, error)
	IssuerPut(addr Principal) error
}

type ledgerStore interface {
	BountySequence() (uint64, error)
	SetBountySequence(seq uint64) error
	BountyGet(id Digest) (*Bounty, bool, error)
	BountyPut(b *Bounty) error
	BountyDelete(id Digest) error
}

type engagementStore interface {
	EngagementGet(id Digest) (*Engagement, bool, error)
	EngagementPut(id Digest, g *Engagement) error
	EngagementDelete(id Digest) error
}

type escrowStore interface {
	EscrowBalance(id Digest) (*uint256.Int, error)
	SetEscrowBalance(id Digest, amount *uint256.Int) error
	AccountBalance(addr Principal) (*uint256.Int, error)
	SetAccountBalance(addr Principal, amount *uint256.Int) error
}

type engineState interface {
	issuerStore
	ledgerStore
	indexStore
	engagementStore
	escrowStore
}

// Engine implements the bounty escrow state machine on top of an injected
// state backend. It performs no locking and no rollback: callers run each
// public method inside a single atomic state transaction and discard the
// transaction when an error is returned.
type Engine struct {
	state   engineState
	emitter events.Emitter
	hasher  Hasher
	nowFn   func() int64
}

// NewEngine creates a bounty engine with a no-op emitter and the keccak256
// hasher.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		hasher:  DefaultHasher(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetHasher configures the hasher used to derive bounty identifiers.
func (e *Engine) SetHasher(h Hasher) {
	if h == nil {
		h = DefaultHasher()
	}
	e.hasher = h
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func validCaller(p Principal) error {
	if p == (Principal{}) || p == VaultAddress {
		return fmt.Errorf("%w: %s", ErrInvalidPrincipal, p.Hex())
	}
	return nil
}

// DeriveID computes the bounty identifier. The sequence value disambiguates
// structurally identical submissions.
func DeriveID(h Hasher, submitter Principal, bountyType uint8, reward *uint256.Int, commitment Digest, seq uint64) Digest {
	if h == nil {
		h = DefaultHasher()
	}
	rewardBytes := types.EnsureBalance(reward).Bytes32()
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return h.Sum(submitter.Bytes(), []byte{bountyType}, rewardBytes[:], commitment.Bytes(), seqBytes[:])
}

func (e *Engine) loadBounty(id Digest) (*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	b, ok, err := e.state.BountyGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || b == nil {
		return nil, ErrBountyNotFound
	}
	return b, nil
}

func (e *Engine) loadEngagement(id Digest) (*Engagement, error) {
	g, ok, err := e.state.EngagementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || g == nil {
		return &Engagement{}, nil
	}
	return g, nil
}

func (e *Engine) storeEngagement(id Digest, g *Engagement) error {
	if g.Empty() {
		return e.state.EngagementDelete(id)
	}
	return e.state.EngagementPut(id, g)
}

// RegisterIssuer adds caller to the issuer registry.
func (e *Engine) RegisterIssuer(caller Principal) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := validCaller(caller); err != nil {
		return err
	}
	exists, err := e.state.IssuerExists(caller)
	if err != nil {
		return err
	}
	if exists {
		return ErrIssuerAlreadyRegistered
	}
	if err := e.state.IssuerPut(caller); err != nil {
		return err
	}
	e.emit(NewIssuerRegisteredEvent(caller))
	return nil
}

// IsRegisteredIssuer reports whether addr may create bounties.
func (e *Engine) IsRegisteredIssuer(addr Principal) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.state.IssuerExists(addr)
}

// SubmitBounty escrows value from caller and records a new bounty. The
// supplied value must equal the declared reward exactly.
func (e *Engine) SubmitBounty(caller Principal, bountyType uint8, reward *uint256.Int, commitment Digest, value *uint256.Int) (*Bounty, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := validCaller(caller); err != nil {
		return nil, err
	}
	registered, err := e.state.IssuerExists(caller)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrNotRegisteredIssuer
	}
	reward = types.EnsureBalance(reward)
	value = types.EnsureBalance(value)
	if !reward.Eq(value) {
		return nil, fmt.Errorf("%w: reward %s, sent %s", ErrRewardMismatch, reward.Dec(), value.Dec())
	}
	seq, err := e.state.BountySequence()
	if err != nil {
		return nil, err
	}
	id := DeriveID(e.hasher, caller, bountyType, reward, commitment, seq)
	if _, exists, err := e.state.BountyGet(id); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: identifier collision for %s", ErrInvariantViolation, id.Hex())
	}
	if err := e.transfer(caller, VaultAddress, value); err != nil {
		return nil, err
	}
	b := &Bounty{
		ID:             id,
		Submitter:      caller,
		BountyType:     bountyType,
		Reward:         reward,
		CommitmentHash: commitment,
		CreatedAt:      e.now(),
	}
	if err := e.state.BountyPut(b); err != nil {
		return nil, err
	}
	if err := e.index().append(id); err != nil {
		return nil, err
	}
	if err := e.escrowCredit(id, value); err != nil {
		return nil, err
	}
	if err := e.state.SetBountySequence(seq + 1); err != nil {
		return nil, err
	}
	e.emit(NewBountySubmittedEvent(b))
	return b.Clone(), nil
}

// WithdrawUnapprovedBounty removes an unapproved bounty and returns its reward
// to the submitter. The record is deleted, so a second withdrawal observes
// ErrBountyNotFound.
func (e *Engine) WithdrawUnapprovedBounty(caller Principal, id Digest) (*Bounty, error) {
	b, err := e.loadBounty(id)
	if err != nil {
		return nil, err
	}
	if caller != b.Submitter {
		return nil, ErrNotSubmitter
	}
	if b.IsApproved {
		return nil, ErrAlreadyApproved
	}
	reward := types.EnsureBalance(b.Reward)
	if err := e.state.BountyDelete(id); err != nil {
		return nil, err
	}
	if err := e.index().remove(id); err != nil {
		return nil, err
	}
	if err := e.state.EngagementDelete(id); err != nil {
		return nil, err
	}
	if err := e.escrowRelease(id, reward); err != nil {
		return nil, err
	}
	// Bookkeeping is final before value leaves the vault.
	if err := e.transfer(VaultAddress, b.Submitter, reward); err != nil {
		return nil, err
	}
	e.emit(NewBountyWithdrawnEvent(b))
	return b.Clone(), nil
}

// RegisterToBounty adds caller to the bounty's hunters. Registering twice is
// rejected with ErrHunterAlreadyRegistered.
func (e *Engine) RegisterToBounty(caller Principal, id Digest) error {
	if err := validCaller(caller); err != nil {
		return err
	}
	b, err := e.loadBounty(id)
	if err != nil {
		return err
	}
	if b.IsApproved {
		return ErrAlreadyApproved
	}
	if caller == b.Submitter {
		return ErrSubmitterCannotRegister
	}
	g, err := e.loadEngagement(id)
	if err != nil {
		return err
	}
	if !g.Register(caller) {
		return ErrHunterAlreadyRegistered
	}
	if err := e.storeEngagement(id, g); err != nil {
		return err
	}
	e.emit(NewHunterRegisteredEvent(id, caller))
	return nil
}

// SubmitReport records or overwrites caller's report digest. A caller that has
// not registered yet is registered in the same step so every report belongs
// to a registered hunter.
func (e *Engine) SubmitReport(caller Principal, id Digest, digest Digest) error {
	if err := validCaller(caller); err != nil {
		return err
	}
	b, err := e.loadBounty(id)
	if err != nil {
		return err
	}
	if b.IsApproved {
		return ErrAlreadyApproved
	}
	if digest == types.ZeroDigest {
		return ErrEmptyDigest
	}
	if caller == b.Submitter {
		return ErrSubmitterCannotRegister
	}
	g, err := e.loadEngagement(id)
	if err != nil {
		return err
	}
	joined := g.Register(caller)
	g.SetReport(caller, digest)
	if err := e.storeEngagement(id, g); err != nil {
		return err
	}
	if joined {
		e.emit(NewHunterRegisteredEvent(id, caller))
	}
	e.emit(NewReportSubmittedEvent(id, caller, digest))
	return nil
}

// FinalizeReport compares hunter's report with the issuer-supplied candidate
// hash. On match the bounty is approved and the reward paid to hunter; on
// mismatch the registration round is reset and false is returned.
func (e *Engine) FinalizeReport(caller Principal, id Digest, hunter Principal, candidate Digest) (bool, error) {
	b, err := e.loadBounty(id)
	if err != nil {
		return false, err
	}
	if caller != b.Submitter {
		return false, ErrNotSubmitter
	}
	if b.IsApproved {
		return false, ErrAlreadyApproved
	}
	g, err := e.loadEngagement(id)
	if err != nil {
		return false, err
	}
	report, ok := g.ReportOf(hunter)
	if !ok {
		return false, ErrNoReportSubmitted
	}
	if !digestsEqual(report, candidate) {
		g.Reset()
		if err := e.storeEngagement(id, g); err != nil {
			return false, err
		}
		e.emit(NewReportRejectedEvent(id, hunter))
		return false, nil
	}

	reward := types.EnsureBalance(b.Reward)
	b.IsApproved = true
	b.ApprovedHunter = hunter
	if err := e.state.BountyPut(b); err != nil {
		return false, err
	}
	if err := e.escrowRelease(id, reward); err != nil {
		return false, err
	}
	// The approval is persisted before the transfer so a reentrant finalize
	// observes ErrAlreadyApproved.
	if err := e.transfer(VaultAddress, hunter, reward); err != nil {
		return false, err
	}
	e.emit(NewReportApprovedEvent(id, hunter, reward))
	return true, nil
}

// GetBounty returns a snapshot of the bounty.
func (e *Engine) GetBounty(id Digest) (*Bounty, error) {
	b, err := e.loadBounty(id)
	if err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

// GetBountyReward returns the reward declared for the bounty.
func (e *Engine) GetBountyReward(id Digest) (*uint256.Int, error) {
	b, err := e.loadBounty(id)
	if err != nil {
		return nil, err
	}
	return types.EnsureBalance(b.Reward), nil
}

// GetBountyIDs lists live bounty identifiers. The order is insertion order
// until a withdrawal swaps the last identifier into the freed slot.
func (e *Engine) GetBountyIDs() ([]Digest, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.index().list()
}

// GetBountyAtIndex returns the identifier stored at position i.
func (e *Engine) GetBountyAtIndex(i uint64) (Digest, error) {
	if err := e.ready(); err != nil {
		return Digest{}, err
	}
	return e.index().at(i)
}

// GetHuntersInBounty lists the registered hunters in registration order.
func (e *Engine) GetHuntersInBounty(id Digest) ([]Principal, error) {
	if _, err := e.loadBounty(id); err != nil {
		return nil, err
	}
	g, err := e.loadEngagement(id)
	if err != nil {
		return nil, err
	}
	return append([]Principal{}, g.Hunters...), nil
}

// GetSubmittedReportsInBounty lists submitted reports in submission order.
func (e *Engine) GetSubmittedReportsInBounty(id Digest) ([]Submission, error) {
	if _, err := e.loadBounty(id); err != nil {
		return nil, err
	}
	g, err := e.loadEngagement(id)
	if err != nil {
		return nil, err
	}
	return append([]Submission{}, g.Reports...), nil
}

// GetReportHash returns hunter's report digest, or the zero digest when the
// hunter has not submitted one.
func (e *Engine) GetReportHash(id Digest, hunter Principal) (Digest, error) {
	if _, err := e.loadBounty(id); err != nil {
		return Digest{}, err
	}
	g, err := e.loadEngagement(id)
	if err != nil {
		return Digest{}, err
	}
	digest, _ := g.ReportOf(hunter)
	return digest, nil
}
