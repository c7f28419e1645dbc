package rpc

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"zkbounty/core/types"
	"zkbounty/native/bounty"
)

// BountyResult is the JSON view of a bounty record. Amounts are decimal
// strings.
type BountyResult struct {
	ID             string `json:"id"`
	Submitter      string `json:"submitter"`
	BountyType     uint8  `json:"bountyType"`
	Reward         string `json:"reward"`
	CommitmentHash string `json:"commitmentHash"`
	IsApproved     bool   `json:"isApproved"`
	ApprovedHunter string `json:"approvedHunter,omitempty"`
	CreatedAt      uint64 `json:"createdAt"`
}

// SubmissionResult pairs a hunter with the digest of its report.
type SubmissionResult struct {
	Hunter string `json:"hunter"`
	Digest string `json:"digest"`
}

// AccountResult reports the balance of an address.
type AccountResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// SubmitBountyRequest is the body of POST /v1/bounties. Value defaults to the
// reward when omitted.
type SubmitBountyRequest struct {
	BountyType     uint8  `json:"bountyType"`
	Reward         string `json:"reward"`
	CommitmentHash string `json:"commitmentHash"`
	Value          string `json:"value,omitempty"`
}

// SubmitReportRequest is the body of POST /v1/bounties/{id}/reports.
type SubmitReportRequest struct {
	Digest string `json:"digest"`
}

// FinalizeRequest is the body of POST /v1/bounties/{id}/finalize.
type FinalizeRequest struct {
	Hunter        string `json:"hunter"`
	CandidateHash string `json:"candidateHash"`
}

// FinalizeResult reports whether the candidate matched.
type FinalizeResult struct {
	Approved bool `json:"approved"`
}

// ErrorResult is the body of every non-2xx response.
type ErrorResult struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func bountyResultFrom(b *bounty.Bounty) BountyResult {
	if b == nil {
		return BountyResult{}
	}
	out := BountyResult{
		ID:             b.ID.Hex(),
		Submitter:      b.Submitter.Hex(),
		BountyType:     b.BountyType,
		Reward:         types.EnsureBalance(b.Reward).Dec(),
		CommitmentHash: b.CommitmentHash.Hex(),
		IsApproved:     b.IsApproved,
		CreatedAt:      b.CreatedAt,
	}
	if b.IsApproved {
		out.ApprovedHunter = b.ApprovedHunter.Hex()
	}
	return out
}

func submissionsFrom(subs []bounty.Submission) []SubmissionResult {
	out := make([]SubmissionResult, 0, len(subs))
	for _, sub := range subs {
		out = append(out, SubmissionResult{Hunter: sub.Hunter.Hex(), Digest: sub.Digest.Hex()})
	}
	return out
}

func hexDigests(ids []types.Digest) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return out
}

func hexPrincipals(addrs []types.Principal) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Hex())
	}
	return out
}

// parseAmount accepts a base-10 integer string.
func parseAmount(field, raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s must be a base-10 integer: %w", field, err)
	}
	return value, nil
}
