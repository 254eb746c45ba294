package session

import (
	"context"
	"fmt"
	"os"

	"github.com/mkurosawa/thisorthat/internal/store"
)

// Result reports which tag weight updates landed in one ApplyChoice
// call. Per-tag failures do not roll back earlier updates, so a caller
// that needs the weak-consistency detail can inspect Failed.
type Result struct {
	Applied []string `json:"applied"`
	Failed  []string `json:"failed,omitempty"`
}

// Ledger accumulates per-session tag weights and the set of images a
// session has already been shown.
type Ledger struct {
	store store.Store
}

// New creates a ledger over the given store.
func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// ApplyChoice records one user decision: +1 for every chosen tag
// occurrence, -1 for every unchosen one, and the shown image added to
// the session's seen set. The session row is lazily created on first
// use. Tag updates are best effort; a failed tag is logged, recorded in
// the result and skipped, while the rest of the call proceeds.
func (l *Ledger) ApplyChoice(ctx context.Context, sessionID string, chosen, unchosen []string, shownImageID int64) (Result, error) {
	var res Result

	if err := l.store.EnsureSession(ctx, sessionID); err != nil {
		return res, fmt.Errorf("ensure session: %w", err)
	}

	apply := func(tags []string, delta int) {
		for _, tag := range tags {
			if err := l.store.IncrTagWeight(ctx, sessionID, tag, delta); err != nil {
				fmt.Fprintf(os.Stderr, "ledger: tag %q update failed for session %s: %v\n", tag, sessionID, err)
				res.Failed = append(res.Failed, tag)
				continue
			}
			res.Applied = append(res.Applied, tag)
		}
	}

	apply(chosen, 1)
	apply(unchosen, -1)

	if err := l.store.AddSeen(ctx, sessionID, shownImageID); err != nil {
		return res, fmt.Errorf("mark image seen: %w", err)
	}

	if err := l.store.TouchSession(ctx, sessionID); err != nil {
		return res, fmt.Errorf("touch session: %w", err)
	}

	return res, nil
}
