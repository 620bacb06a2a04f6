package integrity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/filebridge/filebridge/internal/logger"
)

// ErrJournalUnmerged is returned when the journal still holds pending
// writes after the grace period and remediation.
var ErrJournalUnmerged = errors.New("journal has unmerged writes")

// DefaultGracePeriod is how long VerifyAfterShutdown waits for
// asynchronous filesystem completion before remediating.
const DefaultGracePeriod = 2500 * time.Millisecond

// Verifier confirms the store's write-ahead journal has merged into the
// primary file after shutdown. Forced termination of the host process
// while the journal is non-empty leaves the store in crash-recovery
// state, so the host blocks on this check before it lets the process be
// reclaimed.
//
// The Verifier only reads filesystem metadata and issues idempotent
// checkpoint commands; it never touches server state.
type Verifier struct {
	dbPath string
	grace  time.Duration
}

// NewVerifier creates a verifier for the database at dbPath.
// A non-positive grace falls back to DefaultGracePeriod.
func NewVerifier(dbPath string, grace time.Duration) *Verifier {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Verifier{dbPath: dbPath, grace: grace}
}

// Status returns a fresh snapshot of the journal files.
func (v *Verifier) Status() JournalStatus {
	return Snapshot(v.dbPath)
}

// VerifyAfterShutdown checks that the journal merged into the primary
// file, escalating in stages:
//
//  1. Immediate check; a clean journal ends the protocol.
//  2. Bounded grace wait for asynchronous filesystem completion,
//     watching the journal file for changes, then re-check.
//  3. Forced checkpoint, then a final check. A journal that survives
//     all three stages is reported as ErrJournalUnmerged.
//
// The journal file is never deleted or truncated here; see
// RemoveEmptyJournal for the explicit force path.
func (v *Verifier) VerifyAfterShutdown(ctx context.Context) error {
	st := v.Status()
	if !st.HasIssue() {
		logger.Debug("journal clean after shutdown", "db", v.dbPath)
		return nil
	}

	logger.Warn("journal not merged after shutdown, waiting for completion",
		"journal", st.Journal.Path,
		"size", st.Journal.Size,
		"grace", v.grace.String(),
	)
	v.waitForMerge(ctx)

	st = v.Status()
	if !st.HasIssue() {
		logger.Info("journal merged during grace period", "db", v.dbPath)
		return nil
	}

	logger.Warn("journal still unmerged, forcing checkpoint", "size", st.Journal.Size)
	if err := ForceCheckpoint(ctx, v.dbPath); err != nil {
		logger.Error("forced checkpoint failed", "error", err)
	}

	st = v.Status()
	if st.HasIssue() {
		logger.Error("persistent journal issue after remediation",
			"journal", st.Journal.Path,
			"size", st.Journal.Size,
			"primary_size", st.Primary.Size,
		)
		return fmt.Errorf("%w: %d bytes pending in %s", ErrJournalUnmerged, st.Journal.Size, st.Journal.Path)
	}

	logger.Info("journal merged after forced checkpoint", "db", v.dbPath)
	return nil
}

// waitForMerge blocks until the journal empties, the grace period
// elapses, or ctx is cancelled. A filesystem watcher on the data
// directory wakes the check early when the journal changes; if the
// watcher cannot be created the wait degrades to a plain sleep with a
// final re-check.
func (v *Verifier) waitForMerge(ctx context.Context) {
	deadline := time.NewTimer(v.grace)
	defer deadline.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("journal watcher unavailable, falling back to timed wait", "error", err)
		select {
		case <-deadline.C:
		case <-ctx.Done():
		}
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(v.dbPath)); err != nil {
		logger.Debug("cannot watch data directory, falling back to timed wait", "error", err)
		select {
		case <-deadline.C:
		case <-ctx.Done():
		}
		return
	}

	journal := JournalPath(v.dbPath)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != journal {
				continue
			}
			if !Snapshot(v.dbPath).HasIssue() {
				return
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Debug("journal watcher error", "error", werr)

		case <-deadline.C:
			return

		case <-ctx.Done():
			return
		}
	}
}

// RemoveEmptyJournal deletes the journal and shared-memory companions,
// but only when force is set and the journal holds no pending writes.
// A non-empty journal is never removed: doing so would discard
// committed data.
func (v *Verifier) RemoveEmptyJournal(force bool) error {
	if !force {
		return fmt.Errorf("refusing to remove journal without force flag")
	}

	st := v.Status()
	if st.HasIssue() {
		return fmt.Errorf("refusing to remove non-empty journal (%d bytes pending)", st.Journal.Size)
	}

	for _, path := range []string{JournalPath(v.dbPath), SharedMemoryPath(v.dbPath)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	logger.Info("removed empty journal companions", "db", v.dbPath)
	return nil
}
