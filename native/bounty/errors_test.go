package bounty

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrBountyNotFound, "BountyNotFound"},
		{fmt.Errorf("%w: reward 1, sent 2", ErrRewardMismatch), "RewardMismatch"},
		{fmt.Errorf("dispatch: %w", ErrAlreadyApproved), "AlreadyApproved"},
		{ErrIndexOutOfBounds, "IndexOutOfBounds"},
		{errors.New("disk full"), "Internal"},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestEveryErrorHasCode(t *testing.T) {
	for _, entry := range errorCodes {
		if Code(entry.err) != entry.code {
			t.Fatalf("error %v resolved to %q", entry.err, Code(entry.err))
		}
	}
}
