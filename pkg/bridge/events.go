package bridge

import (
	"context"
	"errors"

	"github.com/filebridge/filebridge/internal/logger"
	"github.com/filebridge/filebridge/pkg/integrity"
	"github.com/filebridge/filebridge/pkg/server"
)

// eventTap sits between the server's event stream and the host's fault
// sink. It intercepts the teardown completion notice to run the journal
// verification before the host learns the shutdown is done, so "graceful"
// really means the data survived.
type eventTap struct {
	bridge *Bridge
}

func (t *eventTap) OnStartError(kind, message string) {
	b := t.bridge
	b.mu.Lock()
	faults := b.faults
	b.mu.Unlock()
	if faults != nil {
		faults.OnStartError(kind, message)
	}
}

func (t *eventTap) OnShutdown(kind string) {
	b := t.bridge

	if kind == server.ShutdownComplete {
		t.verifyJournal()
	}

	b.mu.Lock()
	faults := b.faults
	b.mu.Unlock()
	if faults != nil {
		faults.OnShutdown(kind)
	}
}

// verifyJournal runs the post-shutdown integrity protocol and records the
// outcome. A verification failure is reported as a start error of kind
// "journal" so hosts without log plumbing still see it.
func (t *eventTap) verifyJournal() {
	b := t.bridge
	b.mu.Lock()
	v := b.verifier
	faults := b.faults
	lm := b.lm
	b.mu.Unlock()

	if v == nil {
		return
	}

	err := v.VerifyAfterShutdown(context.Background())
	if err == nil {
		return
	}

	if lm != nil {
		lm.JournalIssues.Inc()
	}
	if errors.Is(err, integrity.ErrJournalUnmerged) {
		logger.Error("journal verification failed after shutdown", "error", err)
	} else {
		logger.Error("journal verification errored", "error", err)
	}
	if faults != nil {
		faults.OnStartError("journal", err.Error())
	}
}
