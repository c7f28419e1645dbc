package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zkbounty/core/events"
	"zkbounty/core/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalAppendAndSince(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	j.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	latest, err := j.Latest(ctx)
	require.NoError(t, err)
	require.Zero(t, latest)

	first, err := j.Append(ctx, &types.Event{Type: "bounty.submitted", Attributes: map[string]string{"id": "0x01"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Sequence)
	second, err := j.Append(ctx, &types.Event{Type: "bounty.withdrawn"})
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Sequence)
	require.NotNil(t, second.Attributes)

	all, err := j.Since(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "bounty.submitted", all[0].Type)
	require.Equal(t, "0x01", all[0].Attributes["id"])
	require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), all[0].CreatedAt)

	page, err := j.Since(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, int64(2), page[0].Sequence)

	limited, err := j.Since(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	latest, err = j.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), latest)

	_, err = j.Append(ctx, nil)
	require.Error(t, err)
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.Append(ctx, &types.Event{Type: "bounty.issuer.registered"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	rec, err := reopened.Append(ctx, &types.Event{Type: "bounty.submitted"})
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Sequence)
}

type plainEvent string

func (e plainEvent) EventType() string { return string(e) }

func payloadEvent(typ string, attrs map[string]string) events.Event {
	return testPayload{evt: &types.Event{Type: typ, Attributes: attrs}}
}

type testPayload struct{ evt *types.Event }

func (p testPayload) EventType() string { return p.evt.Type }
func (p testPayload) Event() *types.Event { return p.evt }

func TestBrokerBacklogThenLive(t *testing.T) {
	j := openTestJournal(t)
	broker := NewBroker(j)
	broker.Emit(payloadEvent("bounty.submitted", map[string]string{"id": "0x01"}))
	broker.Emit(plainEvent("bounty.withdrawn"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, backlog, err := broker.Subscribe(ctx, 0)
	require.NoError(t, err)
	require.Len(t, backlog, 2)
	require.Equal(t, "0x01", backlog[0].Attributes["id"])
	require.Equal(t, "bounty.withdrawn", backlog[1].Type)

	broker.Emit(payloadEvent("bounty.report.submitted", nil))
	select {
	case rec := <-sub.C():
		require.Equal(t, int64(3), rec.Sequence)
		require.Equal(t, "bounty.report.submitted", rec.Type)
	case <-time.After(time.Second):
		t.Fatalf("expected live record")
	}

	cancel()
	require.Eventually(t, func() bool { return broker.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-sub.C()
	require.False(t, open)
	require.False(t, sub.Dropped())
}

func TestBrokerDropsSlowSubscriber(t *testing.T) {
	j := openTestJournal(t)
	broker := NewBroker(j, WithSubscriberBuffer(1))
	sub, _, err := broker.Subscribe(context.Background(), 0)
	require.NoError(t, err)

	broker.Emit(plainEvent("a"))
	broker.Emit(plainEvent("b"))
	require.Equal(t, 0, broker.Subscribers())
	require.True(t, sub.Dropped())

	rec, ok := <-sub.C()
	require.True(t, ok)
	require.Equal(t, "a", rec.Type)
	_, ok = <-sub.C()
	require.False(t, ok)
	sub.Close()
}
