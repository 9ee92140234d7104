// Package builder declares the external Builder boundary the applier
// writes side effects (delete vectors, filename prefixes) to. The
// interface lives here rather than in the root package so fakes used by
// tests never need to import applier internals.
package builder

import "github.com/lakedb/tablet/internal/meta"

// Builder accumulates side-effects produced while applying a batch of
// transaction logs and finalizes the metadata artifact once the batch
// commits. Implementations are supplied by the caller (the rowset writer
// / publish path); the applier only ever calls this interface.
type Builder interface {
	// LoadDelvec loads a previously persisted delete vector by locator,
	// used by full replication to re-home a source tablet's delvecs
	// under this tablet's rebased segment ids (spec.md §4.2.4).
	LoadDelvec(loc meta.DelvecLocator) (*meta.DeleteVector, error)

	// AppendDelvec records a merged delete vector for segmentID, to be
	// persisted under a filename derived from Finalize's maxTxnID.
	AppendDelvec(dv *meta.DeleteVector, segmentID uint32) error

	// Finalize commits accumulated side-effects, using maxTxnID as the
	// filename prefix for any new delete-vector files so that retries of
	// the same version transition produce monotonically increasing names.
	Finalize(maxTxnID uint64) error

	// RecoverFlag reports whether the last publish this builder backed
	// requires the PK recovery envelope of spec.md §4.2.5.
	RecoverFlag() meta.RecoverFlag

	// SetRecoverFlag overwrites the recover flag, used by the applier to
	// reset it to RecoverOK after running recovery once.
	SetRecoverFlag(meta.RecoverFlag)
}
