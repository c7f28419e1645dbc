package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"zkbounty/core/types"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func principalParam(r *http.Request, name string) (types.Principal, error) {
	raw := chi.URLParam(r, name)
	addr, err := types.ParsePrincipal(raw)
	if err != nil {
		return types.Principal{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

func digestParam(r *http.Request, name string) (types.Digest, error) {
	raw := chi.URLParam(r, name)
	d, err := types.ParseDigest(raw)
	if err != nil {
		return types.Digest{}, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized", errMissingBearer)
		return types.Principal{}, false
	}
	return caller, true
}

func (s *Server) handleRegisterIssuer(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.ledger.RegisterIssuer(r.Context(), caller); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"issuer": caller.Hex(), "registered": true})
}

func (s *Server) handleIsRegisteredIssuer(w http.ResponseWriter, r *http.Request) {
	addr, err := principalParam(r, "address")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	registered, err := s.ledger.IsRegisteredIssuer(r.Context(), addr)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"issuer": addr.Hex(), "registered": registered})
}

func (s *Server) handleSubmitBounty(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req SubmitBountyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	reward, err := parseAmount("reward", req.Reward)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	value := reward
	if strings.TrimSpace(req.Value) != "" {
		if value, err = parseAmount("value", req.Value); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	commitment, err := types.ParseDigest(req.CommitmentHash)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("commitmentHash: %w", err))
		return
	}
	created, err := s.ledger.SubmitBounty(r.Context(), caller, req.BountyType, reward, commitment, value)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/bounties/"+created.ID.Hex())
	writeJSON(w, http.StatusCreated, bountyResultFrom(created))
}

func (s *Server) handleListBounties(w http.ResponseWriter, r *http.Request) {
	ids, err := s.ledger.GetBountyIDs(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ids": hexDigests(ids)})
}

func (s *Server) handleBountyAtIndex(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("index must be a non-negative integer"))
		return
	}
	id, err := s.ledger.GetBountyAtIndex(r.Context(), index)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"index": index, "id": id.Hex()})
}

func (s *Server) handleGetBounty(w http.ResponseWriter, r *http.Request) {
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	b, err := s.ledger.GetBounty(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bountyResultFrom(b))
}

func (s *Server) handleBountyReward(w http.ResponseWriter, r *http.Request) {
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	reward, err := s.ledger.GetBountyReward(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.Hex(), "reward": types.EnsureBalance(reward).Dec()})
}

func (s *Server) handleBountyEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	held, err := s.ledger.EscrowBalance(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.Hex(), "escrow": types.EnsureBalance(held).Dec()})
}

func (s *Server) handleWithdrawBounty(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	withdrawn, err := s.ledger.WithdrawUnapprovedBounty(r.Context(), caller, id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bountyResultFrom(withdrawn))
}

func (s *Server) handleRegisterHunter(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.ledger.RegisterToBounty(r.Context(), caller, id); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.Hex(), "hunter": caller.Hex()})
}

func (s *Server) handleListHunters(w http.ResponseWriter, r *http.Request) {
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	hunters, err := s.ledger.GetHuntersInBounty(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id.Hex(), "hunters": hexPrincipals(hunters)})
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req SubmitReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	digest, err := types.ParseDigest(req.Digest)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("digest: %w", err))
		return
	}
	if err := s.ledger.SubmitReport(r.Context(), caller, id, digest); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmissionResult{Hunter: caller.Hex(), Digest: digest.Hex()})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	subs, err := s.ledger.GetSubmittedReportsInBounty(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id.Hex(), "reports": submissionsFrom(subs)})
}

func (s *Server) handleReportHash(w http.ResponseWriter, r *http.Request) {
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	hunter, err := principalParam(r, "hunter")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	digest, err := s.ledger.GetReportHash(r.Context(), id, hunter)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmissionResult{Hunter: hunter.Hex(), Digest: digest.Hex()})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := digestParam(r, "id")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req FinalizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	hunter, err := types.ParsePrincipal(req.Hunter)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("hunter: %w", err))
		return
	}
	candidate, err := types.ParseDigest(req.CandidateHash)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("candidateHash: %w", err))
		return
	}
	approved, err := s.ledger.FinalizeReport(r.Context(), caller, id, hunter, candidate)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResult{Approved: approved})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := principalParam(r, "address")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.ledger.Balance(r.Context(), addr)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResult{Address: addr.Hex(), Balance: types.EnsureBalance(balance).Dec()})
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	held, err := s.ledger.VaultBalance(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"escrow": types.EnsureBalance(held).Dec()})
}
