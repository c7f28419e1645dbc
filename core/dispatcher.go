package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"zkbounty/core/events"
	"zkbounty/core/state"
	"zkbounty/core/types"
	"zkbounty/native/bounty"
	"zkbounty/observability"
)

// ErrNilState is returned when a dispatcher is constructed without a state
// manager.
var ErrNilState = errors.New("core: state manager required")

// Dispatcher is the single sequencer in front of the bounty ledger. Every
// mutating operation runs under one lock against its own state transaction:
// failures discard the transaction, successes commit it as one batch and only
// then release the buffered events.
type Dispatcher struct {
	mu      sync.RWMutex
	state   *state.Manager
	emitter events.Emitter
	hasher  bounty.Hasher
	logger  *slog.Logger
	metrics *observability.BountyMetrics
	tracer  trace.Tracer
	nowFn   func() int64
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithEmitter sets the destination for committed events.
func WithEmitter(emitter events.Emitter) Option {
	return func(d *Dispatcher) {
		if emitter != nil {
			d.emitter = emitter
		}
	}
}

// WithHasher sets the hasher used to derive bounty identifiers.
func WithHasher(h bounty.Hasher) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.hasher = h
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(metrics *observability.BountyMetrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// WithTracer sets the tracer used to open a span per operation.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithNowFunc overrides the clock used for bounty timestamps.
func WithNowFunc(now func() int64) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.nowFn = now
		}
	}
}

// NewDispatcher wires a dispatcher over mgr.
func NewDispatcher(mgr *state.Manager, opts ...Option) (*Dispatcher, error) {
	if mgr == nil {
		return nil, ErrNilState
	}
	d := &Dispatcher{
		state:   mgr,
		emitter: events.NoopEmitter{},
		hasher:  bounty.DefaultHasher(),
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer("zkbounty/core"),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Hasher returns the hasher used for identifiers and report digests.
func (d *Dispatcher) Hasher() bounty.Hasher { return d.hasher }

func (d *Dispatcher) newEngine(st *state.Tx, emitter events.Emitter) *bounty.Engine {
	engine := bounty.NewEngine()
	engine.SetState(st)
	engine.SetEmitter(emitter)
	engine.SetHasher(d.hasher)
	engine.SetNowFunc(d.nowFn)
	return engine
}

// execute runs fn as one atomic operation.
func (d *Dispatcher) execute(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(*state.Tx, *bounty.Engine) error) error {
	ctx, span := d.tracer.Start(ctx, "bounty."+op, trace.WithAttributes(attrs...))
	defer span.End()
	start := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	err := ctx.Err()
	var pending events.Buffer
	if err == nil {
		tx := d.state.Begin()
		err = fn(tx, d.newEngine(tx, &pending))
		if err == nil {
			err = tx.Commit()
		} else {
			tx.Discard()
		}
	}

	code := bounty.Code(err)
	d.metrics.Observe(op, code, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		d.logger.LogAttrs(ctx, levelFor(code), "bounty operation rejected",
			slog.String("operation", op),
			slog.String("code", code),
			slog.Any("error", err),
		)
		return err
	}

	span.SetAttributes(attribute.Int("events", pending.Len()))
	d.logger.LogAttrs(ctx, slog.LevelDebug, "bounty operation committed",
		slog.String("operation", op),
		slog.Int("events", pending.Len()),
	)
	pending.Flush(events.EmitterFunc(func(evt events.Event) {
		observability.Events().RecordEmitted(evt.EventType())
		d.emitter.Emit(evt)
	}))
	d.refreshGauges()
	return nil
}

// view runs fn against a read-only transaction.
func (d *Dispatcher) view(ctx context.Context, fn func(*bounty.Engine) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.View(func(tx *state.Tx) error {
		return fn(d.newEngine(tx, events.NoopEmitter{}))
	})
}

func (d *Dispatcher) refreshGauges() {
	if d.metrics == nil {
		return
	}
	_ = d.state.View(func(tx *state.Tx) error {
		engine := d.newEngine(tx, events.NoopEmitter{})
		if vault, err := engine.VaultBalance(); err == nil {
			d.metrics.SetEscrow(vault)
		}
		if ids, err := engine.GetBountyIDs(); err == nil {
			d.metrics.SetLive(len(ids))
		}
		return nil
	})
}

// Caller-facing rejections are routine; only unexpected failures are logged
// at error level.
func levelFor(code string) slog.Level {
	switch code {
	case "Internal", "InvariantViolation":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func principalAttr(key string, p types.Principal) attribute.KeyValue {
	return attribute.String(key, p.Hex())
}

func digestAttr(key string, d types.Digest) attribute.KeyValue {
	return attribute.String(key, d.Hex())
}

// ApplyGenesis seeds balances and issuers into an empty ledger. It reports
// whether the genesis was applied by this call; a ledger that already carries
// a genesis marker is left untouched.
func (d *Dispatcher) ApplyGenesis(ctx context.Context, genesis types.Genesis) (bool, error) {
	applied := false
	attrs := []attribute.KeyValue{
		attribute.Int("allocations", len(genesis.Allocations)),
		attribute.Int("issuers", len(genesis.Issuers)),
	}
	err := d.execute(ctx, "ApplyGenesis", attrs, func(tx *state.Tx, engine *bounty.Engine) error {
		done, err := tx.GenesisApplied()
		if err != nil || done {
			return err
		}
		for _, alloc := range genesis.Allocations {
			if err := engine.Credit(alloc.Address, alloc.Amount); err != nil {
				return fmt.Errorf("genesis allocation %s: %w", alloc.Address.Hex(), err)
			}
		}
		for _, issuer := range genesis.Issuers {
			if err := engine.RegisterIssuer(issuer); err != nil {
				return fmt.Errorf("genesis issuer %s: %w", issuer.Hex(), err)
			}
		}
		applied = true
		return tx.MarkGenesisApplied()
	})
	if err != nil {
		return false, err
	}
	if applied {
		d.logger.Info("genesis applied",
			slog.Int("allocations", len(genesis.Allocations)),
			slog.Int("issuers", len(genesis.Issuers)))
	}
	return applied, nil
}

// RegisterIssuer adds caller to the issuer registry.
func (d *Dispatcher) RegisterIssuer(ctx context.Context, caller types.Principal) error {
	return d.execute(ctx, "RegisterIssuer", []attribute.KeyValue{principalAttr("caller", caller)},
		func(_ *state.Tx, engine *bounty.Engine) error {
			return engine.RegisterIssuer(caller)
		})
}

// SubmitBounty escrows value from caller and records a new bounty.
func (d *Dispatcher) SubmitBounty(ctx context.Context, caller types.Principal, bountyType uint8, reward *uint256.Int, commitment types.Digest, value *uint256.Int) (*bounty.Bounty, error) {
	var created *bounty.Bounty
	attrs := []attribute.KeyValue{
		principalAttr("caller", caller),
		attribute.Int("bounty_type", int(bountyType)),
		attribute.String("reward", types.EnsureBalance(reward).Dec()),
	}
	err := d.execute(ctx, "SubmitBounty", attrs, func(_ *state.Tx, engine *bounty.Engine) error {
		b, err := engine.SubmitBounty(caller, bountyType, reward, commitment, value)
		created = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RegisterToBounty adds caller to the hunters of bounty id.
func (d *Dispatcher) RegisterToBounty(ctx context.Context, caller types.Principal, id types.Digest) error {
	attrs := []attribute.KeyValue{principalAttr("caller", caller), digestAttr("bounty_id", id)}
	return d.execute(ctx, "RegisterToBounty", attrs, func(_ *state.Tx, engine *bounty.Engine) error {
		return engine.RegisterToBounty(caller, id)
	})
}

// SubmitReport records caller's report digest for bounty id.
func (d *Dispatcher) SubmitReport(ctx context.Context, caller types.Principal, id types.Digest, digest types.Digest) error {
	attrs := []attribute.KeyValue{principalAttr("caller", caller), digestAttr("bounty_id", id)}
	return d.execute(ctx, "SubmitReport", attrs, func(_ *state.Tx, engine *bounty.Engine) error {
		return engine.SubmitReport(caller, id, digest)
	})
}

// FinalizeReport approves and pays hunter when candidate matches the hunter's
// report, and resets the registration round otherwise.
func (d *Dispatcher) FinalizeReport(ctx context.Context, caller types.Principal, id types.Digest, hunter types.Principal, candidate types.Digest) (bool, error) {
	approved := false
	attrs := []attribute.KeyValue{
		principalAttr("caller", caller),
		digestAttr("bounty_id", id),
		principalAttr("hunter", hunter),
	}
	err := d.execute(ctx, "FinalizeReport", attrs, func(_ *state.Tx, engine *bounty.Engine) error {
		ok, err := engine.FinalizeReport(caller, id, hunter, candidate)
		approved = ok
		return err
	})
	if err != nil {
		return false, err
	}
	if approved {
		d.metrics.RecordSettlement("approved")
	}
	return approved, nil
}

// WithdrawUnapprovedBounty removes the bounty and refunds its reward to the
// submitter.
func (d *Dispatcher) WithdrawUnapprovedBounty(ctx context.Context, caller types.Principal, id types.Digest) (*bounty.Bounty, error) {
	var withdrawn *bounty.Bounty
	attrs := []attribute.KeyValue{principalAttr("caller", caller), digestAttr("bounty_id", id)}
	err := d.execute(ctx, "WithdrawUnapprovedBounty", attrs, func(_ *state.Tx, engine *bounty.Engine) error {
		b, err := engine.WithdrawUnapprovedBounty(caller, id)
		withdrawn = b
		return err
	})
	if err != nil {
		return nil, err
	}
	d.metrics.RecordSettlement("withdrawn")
	return withdrawn, nil
}

// IsRegisteredIssuer reports whether addr may create bounties.
func (d *Dispatcher) IsRegisteredIssuer(ctx context.Context, addr types.Principal) (bool, error) {
	var registered bool
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		registered, err = engine.IsRegisteredIssuer(addr)
		return err
	})
	return registered, err
}

// GetBounty returns a snapshot of bounty id.
func (d *Dispatcher) GetBounty(ctx context.Context, id types.Digest) (*bounty.Bounty, error) {
	var out *bounty.Bounty
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.GetBounty(id)
		return err
	})
	return out, err
}

// GetBountyReward returns the reward declared for bounty id.
func (d *Dispatcher) GetBountyReward(ctx context.Context, id types.Digest) (*uint256.Int, error) {
	var out *uint256.Int
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.GetBountyReward(id)
		return err
	})
	return out, err
}

// GetBountyIDs lists the live bounty identifiers.
func (d *Dispatcher) GetBountyIDs(ctx context.Context) ([]types.Digest, error) {
	var out []types.Digest
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.GetBountyIDs()
		return err
	})
	return out, err
}

// GetBountyAtIndex returns the identifier at position i.
func (d *Dispatcher) GetBountyAtIndex(ctx context.Context, i uint64) (types.Digest, error) {
	var out types.Digest
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.GetBountyAtIndex(i)
		return err
	})
	return out, err
}

// GetReportHash returns hunter's report digest or the zero digest.
func (d *Dispatcher) GetReportHash(ctx context.Context, id types.Digest, hunter types.Principal) (types.Digest, error) {
	var out types.Digest
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.GetReportHash(id, hunter)
		return err
	})
	return out, err
}

// GetHuntersInBounty lists the registered hunters of bounty id.
func (d *Dispatcher) GetHuntersInBounty(ctx context.Context, id types.Digest) ([]types.Principal, error) {
	var out []types.Principal
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.GetHuntersInBounty(id)
		return err
	})
	return out, err
}

// GetSubmittedReportsInBounty lists the reports submitted to bounty id.
func (d *Dispatcher) GetSubmittedReportsInBounty(ctx context.Context, id types.Digest) ([]bounty.Submission, error) {
	var out []bounty.Submission
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.GetSubmittedReportsInBounty(id)
		return err
	})
	return out, err
}

// Balance returns the spendable balance of addr.
func (d *Dispatcher) Balance(ctx context.Context, addr types.Principal) (*uint256.Int, error) {
	var out *uint256.Int
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.Balance(addr)
		return err
	})
	return out, err
}

// Account returns the balance view of addr.
func (d *Dispatcher) Account(ctx context.Context, addr types.Principal) (*types.Account, error) {
	bal, err := d.Balance(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &types.Account{Address: addr, Balance: bal}, nil
}

// EscrowBalance returns the amount held for bounty id.
func (d *Dispatcher) EscrowBalance(ctx context.Context, id types.Digest) (*uint256.Int, error) {
	var out *uint256.Int
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.EscrowBalance(id)
		return err
	})
	return out, err
}

// VaultBalance returns the total value held in escrow.
func (d *Dispatcher) VaultBalance(ctx context.Context) (*uint256.Int, error) {
	var out *uint256.Int
	err := d.view(ctx, func(engine *bounty.Engine) error {
		var err error
		out, err = engine.VaultBalance()
		return err
	})
	return out, err
}
