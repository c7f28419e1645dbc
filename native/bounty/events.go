package bounty

import (
	"strconv"

	"github.com/holiman/uint256"

	"zkbounty/core/events"
	"zkbounty/core/types"
)

const (
	EventTypeIssuerRegistered = "bounty.issuer.registered"
	EventTypeBountySubmitted  = "bounty.submitted"
	EventTypeHunterRegistered = "bounty.hunter.registered"
	EventTypeReportSubmitted  = "bounty.report.submitted"
	EventTypeReportApproved   = "bounty.report.approved"
	EventTypeReportRejected   = "bounty.report.rejected"
	EventTypeBountyWithdrawn  = "bounty.withdrawn"
)

type bountyEvent struct {
	evt *types.Event
}

func (e bountyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bountyEvent) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return bountyEvent{evt: evt} }

// NewIssuerRegisteredEvent returns the payload emitted when a principal joins
// the issuer registry.
func NewIssuerRegisteredEvent(issuer Principal) *types.Event {
	return &types.Event{
		Type:       EventTypeIssuerRegistered,
		Attributes: map[string]string{"issuer": issuer.Hex()},
	}
}

// NewBountySubmittedEvent returns the canonical payload for a newly escrowed
// bounty.
func NewBountySubmittedEvent(b *Bounty) *types.Event {
	attrs := make(map[string]string)
	if b != nil {
		attrs["id"] = b.ID.Hex()
		attrs["submitter"] = b.Submitter.Hex()
		attrs["bountyType"] = strconv.FormatUint(uint64(b.BountyType), 10)
		attrs["reward"] = formatAmount(b.Reward)
	}
	return &types.Event{Type: EventTypeBountySubmitted, Attributes: attrs}
}

// NewHunterRegisteredEvent returns the payload emitted when a hunter joins a
// bounty.
func NewHunterRegisteredEvent(id Digest, hunter Principal) *types.Event {
	return &types.Event{
		Type: EventTypeHunterRegistered,
		Attributes: map[string]string{
			"id":     id.Hex(),
			"hunter": hunter.Hex(),
		},
	}
}

// NewReportSubmittedEvent returns the payload emitted when a hunter records a
// report digest.
func NewReportSubmittedEvent(id Digest, hunter Principal, digest Digest) *types.Event {
	return &types.Event{
		Type: EventTypeReportSubmitted,
		Attributes: map[string]string{
			"id":     id.Hex(),
			"hunter": hunter.Hex(),
			"digest": digest.Hex(),
		},
	}
}

// NewReportApprovedEvent returns the payload emitted when the escrow is
// released to the matching hunter.
func NewReportApprovedEvent(id Digest, hunter Principal, reward *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeReportApproved,
		Attributes: map[string]string{
			"id":     id.Hex(),
			"hunter": hunter.Hex(),
			"reward": formatAmount(reward),
		},
	}
}

// NewReportRejectedEvent returns the payload emitted when the candidate hash
// does not match the hunter's report.
func NewReportRejectedEvent(id Digest, hunter Principal) *types.Event {
	return &types.Event{
		Type: EventTypeReportRejected,
		Attributes: map[string]string{
			"id":     id.Hex(),
			"hunter": hunter.Hex(),
		},
	}
}

// NewBountyWithdrawnEvent returns the payload emitted when the submitter
// reclaims an unapproved bounty.
func NewBountyWithdrawnEvent(b *Bounty) *types.Event {
	attrs := make(map[string]string)
	if b != nil {
		attrs["id"] = b.ID.Hex()
		attrs["submitter"] = b.Submitter.Hex()
		attrs["reward"] = formatAmount(b.Reward)
	}
	return &types.Event{Type: EventTypeBountyWithdrawn, Attributes: attrs}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
