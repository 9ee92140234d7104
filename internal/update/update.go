// Package update declares the external collaborators the primary-key
// applier depends on: the update manager that owns the shared primary-index
// cache, and the tablet handle used to persist metadata. Both are named by
// capability only per spec.md §6 — this package holds no implementation,
// only the interfaces the applier core is written against.
package update

import "github.com/lakedb/tablet/internal/meta"

// IndexEntry is a refcounted handle to a tablet's cached primary index.
// The applier holds at most one reference at a time (spec.md §9).
type IndexEntry interface {
	TabletID() uint64
}

// ShardLockGuard owns the per-tablet primary-index shard lock for as long
// as it is held. Release is idempotent.
type ShardLockGuard interface {
	Release()
}

// Manager is the update manager boundary of spec.md §6: it owns the
// primary-index cache, publishes writes and compactions against it, and
// mediates the per-tablet shard lock.
type Manager interface {
	// CheckMetaVersion fails if baseVersion no longer matches the
	// manager's view of the tablet (a concurrent writer raced); the
	// applier reports any such failure as ErrVersionStale.
	CheckMetaVersion(tabletID, baseVersion uint64) error

	// PreparePrimaryIndex builds or loads the primary index reflecting
	// tablet state at baseVersion, returning a reference to the cache
	// entry and a guard over the per-tablet shard lock.
	PreparePrimaryIndex(
		metadata *meta.TabletMetadata, bldr Builder, baseVersion, newVersion uint64,
	) (IndexEntry, ShardLockGuard, error)

	// PublishPrimaryKeyTablet applies op against entry's index, appends
	// the resulting rowset to metadata, and emits a delete vector into
	// bldr. Returns meta.RecoverNeeded(WithPublish) via bldr's recover
	// flag rather than as an error when recovery is warranted.
	PublishPrimaryKeyTablet(
		op *meta.OpWrite, txnID uint64, metadata *meta.TabletMetadata,
		entry IndexEntry, bldr Builder, baseVersion uint64,
	) error

	// PublishPrimaryCompaction locates op's inputs in the index, merges
	// their delete vectors, and replaces them with op's output in
	// metadata.Rowsets.
	PublishPrimaryCompaction(
		op *meta.OpCompaction, txnID uint64, metadata *meta.TabletMetadata,
		entry IndexEntry, bldr Builder, baseVersion uint64,
	) error

	// CommitPrimaryIndex finalizes entry against the new metadata at
	// Applier.Finish time and reports the entry's new resident size.
	CommitPrimaryIndex(entry IndexEntry, metadata *meta.TabletMetadata) (objectSize int64, err error)

	LockShardPKIndexShard(tabletID uint64)
	UnlockShardPKIndexShard(tabletID uint64)

	ReleasePrimaryIndexCache(entry IndexEntry)
	RemovePrimaryIndexCache(entry IndexEntry)
	UnloadPrimaryIndex(tabletID uint64)

	SetEnablePersistentIndex(tabletID uint64, enabled bool)
	// TryRemoveIndexCacheByKey best-effort removes tabletID's cache entry;
	// returning false (not an error) when another applier holds it is
	// expected and acceptable (spec.md §4.4).
	TryRemoveIndexCacheByKey(tabletID uint64) bool
	UpdateIndexCacheObjectSize(entry IndexEntry, bytes int64)

	// Recover rebuilds delete vectors and the primary index for tabletID
	// from persisted rowsets at baseVersion (the PrimaryKeyRecover
	// boundary of spec.md §6).
	Recover(tabletID, baseVersion uint64) error
}

// Builder is re-exported so callers implementing Manager don't need to
// import the builder package directly; it is the identical interface.
type Builder = interface {
	LoadDelvec(loc meta.DelvecLocator) (*meta.DeleteVector, error)
	AppendDelvec(dv *meta.DeleteVector, segmentID uint32) error
	Finalize(maxTxnID uint64) error
	RecoverFlag() meta.RecoverFlag
	SetRecoverFlag(meta.RecoverFlag)
}

// Tablet persists a finalized metadata snapshot. Out of scope per
// spec.md §1: the applier only calls PutMetadata, never reads it back.
type Tablet interface {
	TabletID() uint64
	PutMetadata(metadata *meta.TabletMetadata) error
}
