package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"zkbounty/core"
	"zkbounty/core/state"
	"zkbounty/core/types"
	"zkbounty/native/bounty"
	"zkbounty/storage"
	"zkbounty/storage/eventlog"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	testIssuer = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testHunter = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testAuth   = AuthConfig{HMACSecret: testSecret, Issuer: "zkbounty", Audience: "bountyd"}
)

type testEnv struct {
	srv        *httptest.Server
	dispatcher *core.Dispatcher
	broker     *eventlog.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	journal, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	broker := eventlog.NewBroker(journal)

	dispatcher, err := core.NewDispatcher(state.NewManager(storage.NewMemDB()), core.WithEmitter(broker))
	require.NoError(t, err)
	applied, err := dispatcher.ApplyGenesis(context.Background(), types.Genesis{
		Allocations: []types.Allocation{{Address: testIssuer, Amount: uint256.NewInt(1_000)}},
		Issuers:     []types.Principal{testIssuer},
	})
	require.NoError(t, err)
	require.True(t, applied)

	server := NewServer(dispatcher, broker, ServerConfig{Auth: testAuth}, nil)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, dispatcher: dispatcher, broker: broker}
}

func mintToken(t *testing.T, cfg AuthConfig, subject types.Principal, ttl time.Duration) string {
	t.Helper()
	token, err := IssueToken(cfg, subject, ttl, time.Now())
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, data []byte) ErrorResult {
	t.Helper()
	var out ErrorResult
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestMutatingRoutesRequireValidToken(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/issuers", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wrongSecret := testAuth
	wrongSecret.HMACSecret = strings.Repeat("x", 32)
	resp, _ = env.do(t, http.MethodPost, "/v1/issuers", mintToken(t, wrongSecret, testHunter, time.Hour), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wrongIssuer := testAuth
	wrongIssuer.Issuer = "someone-else"
	resp, _ = env.do(t, http.MethodPost, "/v1/issuers", mintToken(t, wrongIssuer, testHunter, time.Hour), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := IssueToken(testAuth, testHunter, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	resp, _ = env.do(t, http.MethodPost, "/v1/issuers", expired, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data := env.do(t, http.MethodPost, "/v1/issuers", mintToken(t, testAuth, testHunter, time.Hour), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	registered, err := env.dispatcher.IsRegisteredIssuer(context.Background(), testHunter)
	require.NoError(t, err)
	require.True(t, registered)
}

func TestBountyFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	issuerToken := mintToken(t, testAuth, testIssuer, time.Hour)
	hunterToken := mintToken(t, testAuth, testHunter, time.Hour)

	resp, data := env.do(t, http.MethodPost, "/v1/bounties", issuerToken, SubmitBountyRequest{
		BountyType:     2,
		Reward:         "250",
		CommitmentHash: common.BytesToHash([]byte("commitment")).Hex(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var created BountyResult
	require.NoError(t, json.Unmarshal(data, &created))
	require.Equal(t, "250", created.Reward)
	require.Equal(t, testIssuer.Hex(), created.Submitter)
	require.Equal(t, "/v1/bounties/"+created.ID, resp.Header.Get("Location"))

	resp, data = env.do(t, http.MethodGet, "/v1/bounties", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(data), created.ID)

	resp, data = env.do(t, http.MethodGet, "/v1/bounties/index/0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(data), created.ID)

	report := bounty.DigestReport(bounty.DefaultHasher(), []byte("reentrancy in payout"))
	resp, data = env.do(t, http.MethodPost, "/v1/bounties/"+created.ID+"/reports", hunterToken, SubmitReportRequest{Digest: report.Hex()})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	resp, data = env.do(t, http.MethodGet, "/v1/bounties/"+created.ID+"/reports/"+testHunter.Hex(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stored SubmissionResult
	require.NoError(t, json.Unmarshal(data, &stored))
	require.Equal(t, report.Hex(), stored.Digest)

	// Only the submitter may finalize.
	resp, data = env.do(t, http.MethodPost, "/v1/bounties/"+created.ID+"/finalize", hunterToken, FinalizeRequest{
		Hunter: testHunter.Hex(), CandidateHash: report.Hex(),
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "NotSubmitter", decodeError(t, data).Code)

	resp, data = env.do(t, http.MethodPost, "/v1/bounties/"+created.ID+"/finalize", issuerToken, FinalizeRequest{
		Hunter: testHunter.Hex(), CandidateHash: report.Hex(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var result FinalizeResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.True(t, result.Approved)

	resp, data = env.do(t, http.MethodGet, "/v1/accounts/"+testHunter.Hex(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acct AccountResult
	require.NoError(t, json.Unmarshal(data, &acct))
	require.Equal(t, "250", acct.Balance)

	resp, data = env.do(t, http.MethodDelete, "/v1/bounties/"+created.ID, issuerToken, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "AlreadyApproved", decodeError(t, data).Code)
}

func TestLedgerErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t)
	hunterToken := mintToken(t, testAuth, testHunter, time.Hour)
	missing := common.BytesToHash([]byte("missing")).Hex()

	resp, data := env.do(t, http.MethodGet, "/v1/bounties/"+missing, "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "BountyNotFound", decodeError(t, data).Code)

	resp, data = env.do(t, http.MethodGet, "/v1/bounties/0x1234", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, codeBadRequest, decodeError(t, data).Code)

	resp, data = env.do(t, http.MethodGet, "/v1/bounties/index/7", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "IndexOutOfBounds", decodeError(t, data).Code)

	resp, data = env.do(t, http.MethodPost, "/v1/bounties", hunterToken, SubmitBountyRequest{
		Reward: "1", CommitmentHash: missing,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "NotRegisteredIssuer", decodeError(t, data).Code)

	issuerToken := mintToken(t, testAuth, testIssuer, time.Hour)
	resp, data = env.do(t, http.MethodPost, "/v1/bounties", issuerToken, SubmitBountyRequest{
		Reward: "10", Value: "9", CommitmentHash: missing,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "RewardMismatch", decodeError(t, data).Code)

	resp, _ = env.do(t, http.MethodPost, "/v1/bounties", issuerToken, map[string]interface{}{
		"reward": "10", "commitmentHash": missing, "unexpected": true,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusForCoversEveryKind(t *testing.T) {
	cases := map[string]int{
		"BountyNotFound":          http.StatusNotFound,
		"NotRegisteredIssuer":     http.StatusForbidden,
		"NotSubmitter":            http.StatusForbidden,
		"SubmitterCannotRegister": http.StatusForbidden,
		"AlreadyApproved":         http.StatusConflict,
		"IssuerAlreadyRegistered": http.StatusConflict,
		"HunterAlreadyRegistered": http.StatusConflict,
		"IndexOutOfBounds":        http.StatusBadRequest,
		"InvalidPrincipal":        http.StatusBadRequest,
		"EmptyDigest":             http.StatusBadRequest,
		"RewardMismatch":          http.StatusUnprocessableEntity,
		"NoReportSubmitted":       http.StatusUnprocessableEntity,
		"InsufficientFunds":       http.StatusUnprocessableEntity,
		"InvariantViolation":      http.StatusInternalServerError,
		"Internal":                http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(headerRequestID, "trace-me")
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "trace-me", resp.Header.Get(headerRequestID))

	resp, _ = env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Len(t, resp.Header.Get(headerRequestID), 36)
}

func TestEventsPaging(t *testing.T) {
	env := newTestEnv(t)
	issuerToken := mintToken(t, testAuth, testIssuer, time.Hour)
	resp, _ := env.do(t, http.MethodPost, "/v1/bounties", issuerToken, SubmitBountyRequest{
		Reward: "5", CommitmentHash: common.BytesToHash([]byte("c")).Hex(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, data := env.do(t, http.MethodGet, "/v1/events?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Events []eventlog.Record `json:"events"`
		Next   int64             `json:"next"`
	}
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Events, 1)
	require.Equal(t, bounty.EventTypeIssuerRegistered, page.Events[0].Type)
	require.Equal(t, int64(1), page.Next)

	resp, data = env.do(t, http.MethodGet, "/v1/events?cursor=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Events, 1)
	require.Equal(t, bounty.EventTypeBountySubmitted, page.Events[0].Type)
	require.Equal(t, "5", page.Events[0].Attributes["reward"])

	resp, _ = env.do(t, http.MethodGet, "/v1/events?cursor=-3", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsWebsocketStreamsBacklogAndLive(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	readRecord := func() eventlog.Record {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var rec eventlog.Record
		require.NoError(t, json.Unmarshal(data, &rec))
		return rec
	}

	backlog := readRecord()
	require.Equal(t, int64(1), backlog.Sequence)
	require.Equal(t, bounty.EventTypeIssuerRegistered, backlog.Type)

	require.NoError(t, env.dispatcher.RegisterIssuer(ctx, testHunter))
	live := readRecord()
	require.Equal(t, int64(2), live.Sequence)
	require.Equal(t, testHunter.Hex(), live.Attributes["issuer"])
}
