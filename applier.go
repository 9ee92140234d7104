// Package tablet implements the per-tablet, per-version-transition
// transaction log applier: given a base metadata snapshot and a sequence
// of transaction logs, it produces the next metadata snapshot for either a
// primary-key or a non-primary-key tablet.
package tablet

import (
	"github.com/lakedb/tablet/internal/builder"
	"github.com/lakedb/tablet/internal/meta"
	"github.com/lakedb/tablet/internal/update"
)

// Applier is the lifecycle contract of spec.md §2: init is implicit in
// NewApplier, apply is Apply, finish is Finish, and Close is the
// destructor-equivalent cleanup that runs on every exit path, including
// after a successful Finish.
type Applier interface {
	// Apply folds one transaction log into the metadata document this
	// applier owns. The first error short-circuits the batch; the
	// applier must not be reused after any error.
	Apply(log *meta.TxnLog) error

	// Finish commits the version transition and returns the finalized
	// metadata artifact. The non-PK variant persists the artifact through
	// Tablet.PutMetadata before returning it. The PK variant persists
	// nothing beyond the explicit intermediate snapshot of an
	// OpSchemaChange mid-batch (spec.md §4.2.3); persisting its artifact
	// is the caller's concern.
	Finish() (*meta.TabletMetadata, error)

	// Close runs cleanup unconditionally. After a failure it removes any
	// primary-index cache entry the applier prepared; after a successful
	// Finish it only releases its reference, leaving the entry resident.
	// Callers must call Close on every exit path, including after an
	// Apply error; this mirrors a destructor and is safe to call more
	// than once.
	Close()
}

// NewApplier inspects base's key model and constructs the matching
// applier variant (spec.md §4.1). base is cloned; the caller's copy is
// never mutated.
func NewApplier(
	t update.Tablet,
	mgr update.Manager,
	bldr builder.Builder,
	base *meta.TabletMetadata,
	newVersion uint64,
	opts *Options,
) (Applier, error) {
	opts = opts.EnsureDefaults()
	if base.Schema == nil {
		return nil, internalf("tablet: base metadata has no schema")
	}
	md := base.Clone()

	if base.Schema.KeysType == meta.PRIMARY {
		// The PK variant eagerly advances version: an intermediate
		// OpSchemaChange may need to persist at an earlier version and
		// then keep applying against it (spec.md §4.1, §4.2.3).
		md.Version = newVersion
		return newPKApplier(t, mgr, bldr, md, base.Version, newVersion, opts)
	}
	return newNonPKApplier(t, mgr, md, base.Version, newVersion, opts), nil
}
