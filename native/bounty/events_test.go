package bounty

import (
	"testing"

	"github.com/holiman/uint256"

	"zkbounty/core/events"
)

func TestWrapEventExposesPayload(t *testing.T) {
	id := newTestDigest(0x01)
	hunter := newTestAddress(0x02)
	wrapped := WrapEvent(NewReportApprovedEvent(id, hunter, uint256.NewInt(42)))
	if wrapped.EventType() != EventTypeReportApproved {
		t.Fatalf("unexpected type %s", wrapped.EventType())
	}
	payload, ok := events.Unwrap(wrapped)
	if !ok {
		t.Fatalf("expected payload")
	}
	if payload.Attributes["id"] != id.Hex() || payload.Attributes["hunter"] != hunter.Hex() || payload.Attributes["reward"] != "42" {
		t.Fatalf("unexpected attributes %v", payload.Attributes)
	}
}

func TestEventConstructorsTolerateNil(t *testing.T) {
	if evt := NewBountySubmittedEvent(nil); evt.Type != EventTypeBountySubmitted || len(evt.Attributes) != 0 {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt := NewBountyWithdrawnEvent(nil); evt.Type != EventTypeBountyWithdrawn {
		t.Fatalf("unexpected event %+v", evt)
	}
	if got := NewReportApprovedEvent(Digest{}, Principal{}, nil).Attributes["reward"]; got != "0" {
		t.Fatalf("nil reward formatted as %q", got)
	}
	if WrapEvent(nil).EventType() != "" {
		t.Fatalf("nil payload must have empty type")
	}
}
