package tablet

import (
	"github.com/lakedb/tablet/internal/base"
	"github.com/lakedb/tablet/internal/builder"
	"github.com/lakedb/tablet/internal/meta"
	"github.com/lakedb/tablet/internal/update"
)

// pkApplier implements spec.md §4.2: primary-index lifecycle management,
// write/compaction/schema-change/replication/alter-meta against an
// indexed, mutable-row tablet, and the recovery envelope around publish.
type pkApplier struct {
	tablet  update.Tablet
	mgr     update.Manager
	builder builder.Builder
	opts    *Options

	metadata    *meta.TabletMetadata
	baseVersion uint64
	newVersion  uint64

	entry update.IndexEntry // held for the applier's lifetime once prepared

	maxTxnID     uint64
	hasFinalized bool
	failed       bool
	closed       bool
}

func newPKApplier(
	t update.Tablet,
	mgr update.Manager,
	bldr builder.Builder,
	md *meta.TabletMetadata,
	baseVersion, newVersion uint64,
	opts *Options,
) (*pkApplier, error) {
	if err := mgr.CheckMetaVersion(md.TabletID, baseVersion); err != nil {
		return nil, versionStalef("tablet %d: base version %d is stale: %v", md.TabletID, baseVersion, err)
	}
	return &pkApplier{
		tablet:      t,
		mgr:         mgr,
		builder:     bldr,
		opts:        opts,
		metadata:    md,
		baseVersion: baseVersion,
		newVersion:  newVersion,
	}, nil
}

func (a *pkApplier) Apply(log *meta.TxnLog) error {
	if a.failed || a.hasFinalized {
		return ErrNotReusable
	}
	if log.TxnID > a.maxTxnID {
		a.maxTxnID = log.TxnID
	}

	var err error
	switch log.Kind() {
	case meta.KindWrite:
		err = a.applyWrite(log.TxnID, log.Write)
	case meta.KindCompaction:
		err = a.applyCompaction(log.TxnID, log.Compaction)
	case meta.KindSchemaChange:
		err = a.applySchemaChange(log.SchemaChange)
	case meta.KindAlterMetadata:
		err = a.applyAlterMetadata(log.AlterMetadata)
	case meta.KindReplication:
		err = a.applyReplication(log.TxnID, log.Replication)
	default:
		err = internalf("tablet: txn log %d carries no op kind", log.TxnID)
	}
	if err != nil {
		a.failed = true
	}
	return err
}

// ensureIndexPrepared materializes a.entry on the first write- or
// compaction-log that needs it, reflecting tablet state at a.baseVersion.
// The shard lock passed into PreparePrimaryIndex is scoped to the call
// itself (spec.md §9): the returned guard is released immediately after.
func (a *pkApplier) ensureIndexPrepared() error {
	if a.entry != nil {
		return nil
	}
	entry, guard, err := a.mgr.PreparePrimaryIndex(a.metadata, a.builder, a.baseVersion, a.newVersion)
	if err != nil {
		return transientf(err, "tablet %d: prepare primary index", a.metadata.TabletID)
	}
	a.entry = entry
	guard.Release()
	return nil
}

func (a *pkApplier) applyWrite(txnID uint64, op *meta.OpWrite) error {
	a.mgr.LockShardPKIndexShard(a.metadata.TabletID)
	defer a.mgr.UnlockShardPKIndexShard(a.metadata.TabletID)

	publish := func() error {
		if err := a.ensureIndexPrepared(); err != nil {
			return err
		}
		// The PK path short-circuits and does not publish when the write
		// has no deletes, no new rows, and no delete predicate. A
		// delete-predicate-only rowset is still published. Unlike the
		// non-PK path (meta.ApplyWrite), a zero-row write that carries
		// deletes is published too.
		if op.HasNoEffect() {
			return nil
		}
		return a.mgr.PublishPrimaryKeyTablet(op, txnID, a.metadata, a.entry, a.builder, a.baseVersion)
	}
	return a.withRecovery(publish)
}

func (a *pkApplier) applyCompaction(txnID uint64, op *meta.OpCompaction) error {
	a.mgr.LockShardPKIndexShard(a.metadata.TabletID)
	defer a.mgr.UnlockShardPKIndexShard(a.metadata.TabletID)

	publish := func() error {
		if err := a.ensureIndexPrepared(); err != nil {
			return err
		}
		if len(op.InputRowsetIDs) == 0 {
			return nil
		}
		return a.mgr.PublishPrimaryCompaction(op, txnID, a.metadata, a.entry, a.builder, a.baseVersion)
	}
	return a.withRecovery(publish)
}

// withRecovery implements spec.md §4.2.5. publish is invoked at most
// twice: once normally, and once more if recovery determines the
// original publish must be re-applied.
func (a *pkApplier) withRecovery(publish func() error) error {
	if err := publish(); err != nil {
		return err
	}
	flag := a.builder.RecoverFlag()
	if flag == meta.RecoverOK {
		return nil
	}
	if !a.opts.EnablePrimaryKeyRecover {
		return internalf("tablet %d: publish requires recovery but recovery is disabled", a.metadata.TabletID)
	}

	log := base.ForTablet(a.opts.Logger, a.metadata.TabletID)
	log.Infof("primary key recovery triggered")
	if a.entry != nil {
		a.mgr.ReleasePrimaryIndexCache(a.entry)
		a.entry = nil
	}
	if err := a.mgr.Recover(a.metadata.TabletID, a.baseVersion); err != nil {
		return transientf(err, "tablet %d: primary key recovery", a.metadata.TabletID)
	}
	a.builder.SetRecoverFlag(meta.RecoverOK)

	if flag != meta.RecoverNeededWithPublish {
		return nil
	}
	if err := publish(); err != nil {
		return err
	}
	if again := a.builder.RecoverFlag(); again != meta.RecoverOK {
		log.Fatalf("recovery required a second time within one apply call")
	}
	return nil
}

// applySchemaChange implements spec.md §4.2.3.
func (a *pkApplier) applySchemaChange(op *meta.OpSchemaChange) error {
	if a.baseVersion != 1 || len(a.metadata.Rowsets) != 0 {
		return internalf("tablet %d: schema change is only valid as the first mutation of a fresh tablet", a.metadata.TabletID)
	}
	for _, r := range op.Rowsets {
		rs := r.Clone()
		a.metadata.Rowsets = append(a.metadata.Rowsets, rs)
		a.metadata.BumpNextRowsetID(rs.ID, rs.AllocStep())
	}
	if len(op.DelvecMeta) != 0 {
		if !op.LinkedSegment {
			return corruptf("tablet %d: schema change carries delete vectors without linked_segment", a.metadata.TabletID)
		}
		if a.metadata.DelvecMeta == nil {
			a.metadata.DelvecMeta = make(map[uint32]meta.DelvecLocator, len(op.DelvecMeta))
		}
		for k, v := range op.DelvecMeta {
			a.metadata.DelvecMeta[k] = v
		}
	}
	if op.AlterVersion+1 < a.newVersion {
		snapshot := a.metadata.Clone()
		snapshot.Version = op.AlterVersion
		if err := a.tablet.PutMetadata(snapshot); err != nil {
			return transientf(err, "tablet %d: persist intermediate schema-change snapshot at version %d", a.metadata.TabletID, op.AlterVersion)
		}
		base.ForTablet(a.opts.Logger, a.metadata.TabletID).Infof("persisted intermediate snapshot at version %d ahead of schema change batch", op.AlterVersion)
		a.baseVersion = op.AlterVersion
	}
	return nil
}

func (a *pkApplier) applyAlterMetadata(op *meta.OpAlterMetadata) error {
	if a.newVersion != a.baseVersion+1 {
		return internalf("tablet %d: alter-metadata must be a single version step, got %d -> %d",
			a.metadata.TabletID, a.baseVersion, a.newVersion)
	}
	return applyAlterMetadata(a.metadata, op, a.mgr, a.opts)
}

// applyReplication implements spec.md §4.2.4.
func (a *pkApplier) applyReplication(txnID uint64, op *meta.OpReplication) error {
	if op.TxnState != meta.TxnStateReplicated || op.SnapshotVersion != a.newVersion {
		return corruptf("tablet %d: replication log has txn_state=%v snapshot_version=%d, want REPLICATED/%d",
			a.metadata.TabletID, op.TxnState, op.SnapshotVersion, a.newVersion)
	}

	if op.Incremental {
		if a.newVersion-a.baseVersion != uint64(len(op.Writes)) {
			return corruptf("tablet %d: incremental replication carries %d writes, want %d",
				a.metadata.TabletID, len(op.Writes), a.newVersion-a.baseVersion)
		}
		for i := range op.Writes {
			if err := a.applyWrite(txnID, &op.Writes[i]); err != nil {
				return err
			}
		}
	} else {
		if err := a.applyFullReplication(op); err != nil {
			return err
		}
	}

	if op.SourceSchema != nil {
		a.metadata.SourceSchema = op.SourceSchema.Clone()
	}
	return nil
}

func (a *pkApplier) applyFullReplication(op *meta.OpReplication) error {
	a.metadata.CompactionInputs = append(a.metadata.CompactionInputs, a.metadata.Rowsets...)
	a.metadata.Rowsets = nil
	a.metadata.DelvecMeta = nil

	offset := a.metadata.NextRowsetID
	for i := range op.Writes {
		rs := op.Writes[i].Rowset.Clone()
		rs.ID += offset
		a.metadata.Rowsets = append(a.metadata.Rowsets, rs)
		// Open question (spec.md §9): advance next_rowset_id to at least
		// every rebased id plus its allocation step (max(1, segments)), so
		// it strictly exceeds every rebased id, the same way the
		// non-PK/OpWrite allocator does, even though the source write's
		// own id space does not drive this tablet's allocator.
		a.metadata.BumpNextRowsetID(rs.ID, rs.AllocStep())
	}
	for segID, loc := range op.Delvecs {
		dv, err := a.builder.LoadDelvec(loc)
		if err != nil {
			return corruptf("tablet %d: load delete vector %q for segment %d: %v", a.metadata.TabletID, loc.Locator, segID, err)
		}
		destSegID := segID + offset
		dv.SegmentID = destSegID
		if err := a.builder.AppendDelvec(dv, destSegID); err != nil {
			return transientf(err, "tablet %d: append rebased delete vector for segment %d", a.metadata.TabletID, destSegID)
		}
	}
	a.metadata.CumulativePoint = 0

	a.mgr.UnloadPrimaryIndex(a.metadata.TabletID)
	if a.entry != nil {
		a.mgr.ReleasePrimaryIndexCache(a.entry)
		a.entry = nil
	}
	return nil
}

func (a *pkApplier) Finish() (*meta.TabletMetadata, error) {
	if a.failed || a.hasFinalized {
		return nil, ErrNotReusable
	}
	if a.entry != nil {
		objSize, err := a.mgr.CommitPrimaryIndex(a.entry, a.metadata)
		if err != nil {
			a.failed = true
			return nil, transientf(err, "tablet %d: commit primary index", a.metadata.TabletID)
		}
		a.mgr.UpdateIndexCacheObjectSize(a.entry, objSize)
	}
	if err := a.builder.Finalize(a.maxTxnID); err != nil {
		a.failed = true
		return nil, transientf(err, "tablet %d: finalize builder", a.metadata.TabletID)
	}
	a.hasFinalized = true
	return a.metadata, nil
}

// Close implements the destructor-equivalent cleanup of spec.md §4.2.6. It
// is idempotent and safe to call after a successful Finish.
func (a *pkApplier) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.entry == nil {
		return
	}
	if !a.hasFinalized {
		a.mgr.UnloadPrimaryIndex(a.metadata.TabletID)
		a.mgr.RemovePrimaryIndexCache(a.entry)
	} else {
		a.mgr.ReleasePrimaryIndexCache(a.entry)
	}
	a.entry = nil
}
