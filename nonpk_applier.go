package tablet

import (
	"fmt"

	"github.com/lakedb/tablet/internal/meta"
	"github.com/lakedb/tablet/internal/update"
)

// nonPKApplier implements spec.md §4.3: no index, no recovery, no shard
// lock. DUPLICATE/AGGREGATE/UNIQUE tablets are append-only, so compaction's
// adjacency and cumulative-point bookkeeping is the only dense logic here;
// it lives in internal/meta so it can be unit tested without a Tablet.
type nonPKApplier struct {
	tablet update.Tablet
	mgr    update.Manager
	opts   *Options

	metadata    *meta.TabletMetadata
	baseVersion uint64
	newVersion  uint64

	maxTxnID     uint64
	hasFinalized bool
	failed       bool
}

func newNonPKApplier(
	t update.Tablet, mgr update.Manager, md *meta.TabletMetadata, baseVersion, newVersion uint64, opts *Options,
) *nonPKApplier {
	return &nonPKApplier{
		tablet:      t,
		mgr:         mgr,
		opts:        opts,
		metadata:    md,
		baseVersion: baseVersion,
		newVersion:  newVersion,
	}
}

func (a *nonPKApplier) Apply(log *meta.TxnLog) error {
	if a.failed || a.hasFinalized {
		return ErrNotReusable
	}
	if log.TxnID > a.maxTxnID {
		a.maxTxnID = log.TxnID
	}
	var err error
	switch log.Kind() {
	case meta.KindWrite:
		a.metadata.ApplyWrite(log.Write)
	case meta.KindCompaction:
		if cerr := a.metadata.ApplyCompaction(log.Compaction, a.opts.EnableSizeTieredCompactionStrategy); cerr != nil {
			err = fmt.Errorf("%w: %w", ErrInternal, cerr)
		}
	case meta.KindSchemaChange:
		if serr := a.metadata.ApplySchemaChange(log.SchemaChange); serr != nil {
			err = fmt.Errorf("%w: %w", ErrInternal, serr)
		}
	case meta.KindAlterMetadata:
		err = applyAlterMetadata(a.metadata, log.AlterMetadata, a.mgr, a.opts)
	case meta.KindReplication:
		err = a.applyReplication(log.Replication)
	default:
		err = internalf("tablet: txn log %d carries no op kind", log.TxnID)
	}
	if err != nil {
		a.failed = true
	}
	return err
}

// applyReplication implements spec.md §4.3.4.
func (a *nonPKApplier) applyReplication(op *meta.OpReplication) error {
	if op.TxnState != meta.TxnStateReplicated || op.SnapshotVersion != a.newVersion {
		return corruptf("tablet: replication log has txn_state=%v snapshot_version=%d, want REPLICATED/%d",
			op.TxnState, op.SnapshotVersion, a.newVersion)
	}

	if op.Incremental {
		if a.newVersion-a.baseVersion != uint64(len(op.Writes)) {
			return corruptf("tablet: incremental replication carries %d writes, want %d",
				len(op.Writes), a.newVersion-a.baseVersion)
		}
		for i := range op.Writes {
			a.metadata.ApplyWrite(&op.Writes[i])
		}
		if op.SourceSchema != nil {
			a.metadata.SourceSchema = op.SourceSchema.Clone()
		}
		return nil
	}

	// Full replication: move existing rowsets aside for GC, then rebuild
	// from scratch at a disjoint id offset.
	a.metadata.CompactionInputs = append(a.metadata.CompactionInputs, a.metadata.Rowsets...)
	a.metadata.Rowsets = nil
	for i := range op.Writes {
		a.metadata.ApplyWrite(&op.Writes[i])
	}
	a.metadata.CumulativePoint = 0
	if op.SourceSchema != nil {
		a.metadata.SourceSchema = op.SourceSchema.Clone()
	}
	return nil
}

func (a *nonPKApplier) Finish() (*meta.TabletMetadata, error) {
	if a.failed || a.hasFinalized {
		return nil, ErrNotReusable
	}
	a.metadata.Version = a.newVersion
	if err := a.tablet.PutMetadata(a.metadata); err != nil {
		a.failed = true
		return nil, transientf(err, "tablet: put metadata at version %d", a.newVersion)
	}
	a.hasFinalized = true
	return a.metadata, nil
}

func (a *nonPKApplier) Close() {
	// No index, no shard lock, no cache entry: nothing to clean up.
}
