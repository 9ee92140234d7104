package tablet

import (
	"github.com/lakedb/tablet/internal/meta"
	"github.com/lakedb/tablet/internal/update"
)

// fakeTablet is a minimal update.Tablet used by applier tests. It never
// touches disk; it just records what was persisted.
type fakeTablet struct {
	id     uint64
	puts   []*meta.TabletMetadata
	putErr error
}

func (f *fakeTablet) TabletID() uint64 { return f.id }

func (f *fakeTablet) PutMetadata(md *meta.TabletMetadata) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts = append(f.puts, md.Clone())
	return nil
}

// fakeBuilder is a minimal builder.Builder.
type fakeBuilder struct {
	delvecs     map[uint32]*meta.DeleteVector
	loadable    map[string]*meta.DeleteVector
	flag        meta.RecoverFlag
	finalized   bool
	finalizedAt uint64
	finalizeErr error
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{delvecs: make(map[uint32]*meta.DeleteVector)}
}

func (b *fakeBuilder) LoadDelvec(loc meta.DelvecLocator) (*meta.DeleteVector, error) {
	if dv, ok := b.loadable[loc.Locator]; ok {
		return dv, nil
	}
	return meta.NewDeleteVector(loc.SegmentID), nil
}

func (b *fakeBuilder) AppendDelvec(dv *meta.DeleteVector, segmentID uint32) error {
	b.delvecs[segmentID] = dv
	return nil
}

func (b *fakeBuilder) Finalize(maxTxnID uint64) error {
	if b.finalizeErr != nil {
		return b.finalizeErr
	}
	b.finalized = true
	b.finalizedAt = maxTxnID
	return nil
}

func (b *fakeBuilder) RecoverFlag() meta.RecoverFlag     { return b.flag }
func (b *fakeBuilder) SetRecoverFlag(f meta.RecoverFlag) { b.flag = f }

// fakeIndexEntry / fakeShardLockGuard are trivial handles.
type fakeIndexEntry struct{ tabletID uint64 }

func (e *fakeIndexEntry) TabletID() uint64 { return e.tabletID }

type fakeShardLockGuard struct{ released *int }

func (g *fakeShardLockGuard) Release() {
	if g.released != nil {
		*g.released++
	}
}

// fakeManager is a scriptable update.Manager.
type fakeManager struct {
	checkMetaVersionErr error

	prepareErr    error
	prepareCalls  int
	guardReleases int

	publishWriteFn      func(op *meta.OpWrite, txnID uint64, md *meta.TabletMetadata) error
	publishCompactionFn func(op *meta.OpCompaction, txnID uint64, md *meta.TabletMetadata) error

	commitErr   error
	commitSize  int64
	commitCalls int

	lockCalls, unlockCalls    int
	releaseCalls, removeCalls int
	unloadCalls               int
	setPersistentIndexCalls   int
	tryRemoveReturnsFalse     bool
	tryRemoveCalls            int
	updateObjectSizeCalls     int

	recoverErr   error
	recoverCalls int
}

func (m *fakeManager) CheckMetaVersion(tabletID, baseVersion uint64) error {
	return m.checkMetaVersionErr
}

func (m *fakeManager) PreparePrimaryIndex(
	md *meta.TabletMetadata, bldr update.Builder, baseVersion, newVersion uint64,
) (update.IndexEntry, update.ShardLockGuard, error) {
	m.prepareCalls++
	if m.prepareErr != nil {
		return nil, nil, m.prepareErr
	}
	return &fakeIndexEntry{tabletID: md.TabletID}, &fakeShardLockGuard{released: &m.guardReleases}, nil
}

func (m *fakeManager) PublishPrimaryKeyTablet(
	op *meta.OpWrite, txnID uint64, md *meta.TabletMetadata,
	entry update.IndexEntry, bldr update.Builder, baseVersion uint64,
) error {
	if m.publishWriteFn != nil {
		return m.publishWriteFn(op, txnID, md)
	}
	rs := op.Rowset.Clone()
	rs.ID = md.AllocRowsetID(rs.AllocStep())
	md.Rowsets = append(md.Rowsets, rs)
	return nil
}

func (m *fakeManager) PublishPrimaryCompaction(
	op *meta.OpCompaction, txnID uint64, md *meta.TabletMetadata,
	entry update.IndexEntry, bldr update.Builder, baseVersion uint64,
) error {
	if m.publishCompactionFn != nil {
		return m.publishCompactionFn(op, txnID, md)
	}
	return md.ApplyCompaction(op, false)
}

func (m *fakeManager) CommitPrimaryIndex(entry update.IndexEntry, md *meta.TabletMetadata) (int64, error) {
	m.commitCalls++
	if m.commitErr != nil {
		return 0, m.commitErr
	}
	return m.commitSize, nil
}

func (m *fakeManager) LockShardPKIndexShard(tabletID uint64)                      { m.lockCalls++ }
func (m *fakeManager) UnlockShardPKIndexShard(tabletID uint64)                    { m.unlockCalls++ }
func (m *fakeManager) ReleasePrimaryIndexCache(entry update.IndexEntry)           { m.releaseCalls++ }
func (m *fakeManager) RemovePrimaryIndexCache(entry update.IndexEntry)            { m.removeCalls++ }
func (m *fakeManager) UnloadPrimaryIndex(tabletID uint64)                        { m.unloadCalls++ }

func (m *fakeManager) SetEnablePersistentIndex(tabletID uint64, enabled bool) {
	m.setPersistentIndexCalls++
}
func (m *fakeManager) TryRemoveIndexCacheByKey(tabletID uint64) bool {
	m.tryRemoveCalls++
	return !m.tryRemoveReturnsFalse
}
func (m *fakeManager) UpdateIndexCacheObjectSize(entry update.IndexEntry, bytes int64) {
	m.updateObjectSizeCalls++
}

func (m *fakeManager) Recover(tabletID, baseVersion uint64) error {
	m.recoverCalls++
	return m.recoverErr
}
