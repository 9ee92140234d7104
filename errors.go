package tablet

import "github.com/cockroachdb/errors"

// Error kinds from spec.md §7. Each is a sentinel that returned errors wrap
// directly (errors.Wrapf), so callers can test with errors.Is without
// depending on message text — the same pattern internal/meta uses for its
// own ErrInternal, and the teacher's compaction_delete.go for assertion
// failures and wrapped I/O errors.
var (
	// ErrVersionStale means the base version no longer matches the update
	// manager's view: a concurrent writer raced ahead of this applier.
	ErrVersionStale = errors.New("tablet: base version is stale")

	// ErrCorrupt means a replication log bears the wrong txn state or
	// snapshot version, or an unparseable delete vector was encountered.
	ErrCorrupt = errors.New("tablet: corrupt transaction log")

	// ErrInternal means a compaction's input rowsets were missing or
	// non-adjacent, or a computed cumulative point fell out of range.
	ErrInternal = errors.New("tablet: internal invariant violated")

	// ErrTransient wraps an I/O or cache failure surfaced by a
	// collaborator (update manager, tablet, or builder).
	ErrTransient = errors.New("tablet: transient collaborator failure")

	// ErrNotReusable is returned by Apply or Finish on an applier that has
	// already returned an error or already finished successfully. Close
	// alone does not make later calls return it.
	ErrNotReusable = errors.New("tablet: applier is not reusable after a prior error")
)

func versionStalef(format string, args ...interface{}) error {
	return errors.Wrapf(ErrVersionStale, format, args...)
}

func corruptf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorrupt, format, args...)
}

func internalf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInternal, format, args...)
}

// transientf wraps a collaborator's error, keeping ErrTransient as the
// matchable cause while folding the collaborator's own message in.
func transientf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(ErrTransient, "%s: %v", errors.Newf(format, args...), err)
}
