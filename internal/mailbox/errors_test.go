package mailbox

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestClassifyAndFailureMessage checks that wrapped errors keep their kind
// and render a readable status line.
func TestClassifyAndFailureMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err      error
		kind     ErrorKind
		contains string
	}{
		{
			err: fmt.Errorf("decryption signature: %w",
				ErrUserRejectedSignature),
			kind:     KindUserRejectedSignature,
			contains: "signature request was rejected",
		},
		{
			err:      fmt.Errorf("submit: %w", ErrUserRejected),
			kind:     KindUserRejected,
			contains: "rejected in the wallet",
		},
		{
			err:      fmt.Errorf("x: %w", context.DeadlineExceeded),
			kind:     KindTimeout,
			contains: "timed out",
		},
		{
			err:      fmt.Errorf("%w: 502 from relayer", ErrRPC),
			kind:     KindRPC,
			contains: "502 from relayer",
		},
		{
			err:      validationError("message is empty"),
			kind:     KindValidation,
			contains: "message is empty",
		},
	}

	for _, tc := range cases {
		require.Equal(t, tc.kind, Classify(tc.err))
		msg := FailureMessage(OpDecrypt, tc.err)
		require.Contains(t, msg, "Decrypt failed")
		require.Contains(t, msg, tc.contains)
	}

	require.Equal(t, KindNone, Classify(nil))
}

// TestShortAddress checks the view's address abbreviation.
func TestShortAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0x5FbD...0aa3", ShortAddress(testContract))
}
