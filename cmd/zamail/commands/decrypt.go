package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/spf13/cobra"
)

var decryptAll bool

var decryptCmd = &cobra.Command{
	Use:   "decrypt [message-id...]",
	Short: "Decrypt messages",
	Long: `Decrypt the given messages, or every listed message with --all. The
first decryption asks the wallet for a decryption signature that is reused
until it expires.`,
	RunE: runDecrypt,
}

func init() {
	decryptCmd.Flags().BoolVar(
		&decryptAll, "all", false, "Decrypt every listed message",
	)
}

func parseMessageIDs(args []string) ([]mailbox.MessageID, error) {
	ids := make([]mailbox.MessageID, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid message id %q", arg)
		}
		ids = append(ids, mailbox.MessageID(id))
	}

	return ids, nil
}

// decryptResult is the outcome of one decrypt.
type decryptResult struct {
	ID     mailbox.MessageID `json:"id"`
	Text   string            `json:"text,omitempty"`
	Cached bool              `json:"cached,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	ids, err := parseMessageIDs(args)
	if err != nil {
		return err
	}
	if len(ids) == 0 && !decryptAll {
		return errors.New("no message ids given; use --all to decrypt " +
			"every message")
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app,
		snap mailbox.Snapshot) error {

		if err := requireReady(snap); err != nil {
			return err
		}

		if decryptAll {
			for _, ref := range snap.Refs() {
				ids = append(ids, ref.ID)
			}
		}

		results, err := decryptMany(ctx, a, ids)
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return outputJSON(results)
		}

		var failed int
		for _, r := range results {
			fmt.Println(formatDecryptResult(r))
			if r.Error != "" {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d messages not decrypted",
				failed, len(results))
		}

		return nil
	})
}

// decryptMany submits every decrypt at once and waits for all of them.
func decryptMany(ctx context.Context, a *app,
	ids []mailbox.MessageID) ([]decryptResult, error) {

	sub, err := a.coordinator.Subscribe(ctx, 1)
	if err != nil {
		return nil, err
	}
	defer sub.Close(context.Background())

	start := time.Now()
	results := make([]decryptResult, len(ids))
	pending := make(map[mailbox.MessageID][]int)
	for i, reply := range a.coordinator.DecryptMessages(ctx, ids) {
		results[i].ID = ids[i]

		resp, err := reply.Unpack()
		switch {
		case err != nil:
			results[i].Error = mailbox.FailureMessage(
				mailbox.OpDecrypt, err,
			)

		case resp.Cached.IsSome():
			results[i].Text = resp.Cached.UnsafeFromSome().ClearText
			results[i].Cached = true

		default:
			pending[ids[i]] = append(pending[ids[i]], i)
		}
	}

	// A failed decrypt leaves no content behind, only the status line of
	// the snapshot that ended it. Snapshots published before the intents
	// were accepted show none of them in flight, so an id only counts as
	// finished once it was seen in flight or a later failure is reported.
	inFlight := make(map[mailbox.MessageID]bool)
	failures := make(map[mailbox.MessageID]string)
	done := func(s mailbox.Snapshot) bool {
		failedSince := s.LastAction.Failed() &&
			s.LastAction.Op == mailbox.OpDecrypt &&
			!s.LastAction.At.Before(start)

		finished := true
		for id := range pending {
			if _, ok := s.Content(id); ok {
				continue
			}

			switch {
			case s.IsDecrypting(id):
				inFlight[id] = true
				finished = false

			case failedSince:
				if _, ok := failures[id]; !ok {
					failures[id] = s.LastAction.Message
				}

			case !inFlight[id]:
				finished = false
			}
		}

		return finished
	}

	snap := mailbox.Snapshot{}
	if len(pending) > 0 {
		snap, err = sub.WaitFor(ctx, done)
		if err != nil {
			return nil, err
		}
	}

	for id, idxs := range pending {
		content, ok := snap.Content(id)
		for _, i := range idxs {
			switch {
			case ok:
				results[i].Text = content.ClearText

			case failures[id] != "":
				results[i].Error = failures[id]

			default:
				results[i].Error = fmt.Sprintf("Decrypt of #%d "+
					"failed", id)
			}
		}
	}

	return results, nil
}
