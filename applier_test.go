package tablet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakedb/tablet/internal/meta"
)

func nonPKBase(tabletID, version uint64, nextRowsetID uint32, keys meta.KeysType) *meta.TabletMetadata {
	return &meta.TabletMetadata{
		TabletID:     tabletID,
		Version:      version,
		NextRowsetID: nextRowsetID,
		Schema:       &meta.Schema{KeysType: keys},
	}
}

func TestNewApplier_RequiresSchema(t *testing.T) {
	_, err := NewApplier(&fakeTablet{}, &fakeManager{}, newFakeBuilder(), &meta.TabletMetadata{}, 1, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestNewApplier_VersionStale(t *testing.T) {
	mgr := &fakeManager{checkMetaVersionErr: assertErr("stale")}
	base := pkBase(1, 5, 1)
	_, err := NewApplier(&fakeTablet{}, mgr, newFakeBuilder(), base, 6, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionStale)
}

func TestNonPKApplier_FullBatchAndPersist(t *testing.T) {
	tb := &fakeTablet{id: 20}
	base := nonPKBase(20, 1, 1, meta.DUPLICATE)

	app, err := NewApplier(tb, &fakeManager{}, nil, base, 2, nil)
	require.NoError(t, err)
	defer app.Close()

	err = app.Apply(&meta.TxnLog{
		TxnID: 1,
		Write: &meta.OpWrite{Rowset: meta.RowsetMetadata{NumRows: 10, Segments: []meta.SegmentFile{{}}}},
	})
	require.NoError(t, err)

	md, err := app.Finish()
	require.NoError(t, err)
	assert.EqualValues(t, 2, md.Version)
	require.Len(t, md.Rowsets, 1)
	require.Len(t, tb.puts, 1)
	assert.EqualValues(t, 2, tb.puts[0].Version)
}

func TestNonPKApplier_CompactionAdjacencyFailureSurfaces(t *testing.T) {
	tb := &fakeTablet{id: 21}
	base := nonPKBase(21, 1, 5, meta.AGGREGATE)
	base.Rowsets = []meta.RowsetMetadata{{ID: 1}, {ID: 2}, {ID: 3}}

	app, err := NewApplier(tb, &fakeManager{}, nil, base, 2, nil)
	require.NoError(t, err)
	defer app.Close()

	err = app.Apply(&meta.TxnLog{TxnID: 1, Compaction: &meta.OpCompaction{InputRowsetIDs: []uint32{1, 3}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)

	// The applier is now dead: every further call is ErrNotReusable.
	err = app.Apply(&meta.TxnLog{TxnID: 2, Write: &meta.OpWrite{Rowset: meta.RowsetMetadata{NumRows: 1}}})
	assert.ErrorIs(t, err, ErrNotReusable)
	_, err = app.Finish()
	assert.ErrorIs(t, err, ErrNotReusable)
}

func TestNonPKApplier_AlterMetadataNotifiesManager(t *testing.T) {
	tb := &fakeTablet{id: 22}
	mgr := &fakeManager{}
	base := nonPKBase(22, 1, 1, meta.UNIQUE)
	app, err := NewApplier(tb, mgr, nil, base, 2, nil)
	require.NoError(t, err)
	defer app.Close()

	enable := true
	err = app.Apply(&meta.TxnLog{TxnID: 1, AlterMetadata: &meta.OpAlterMetadata{EnablePersistentIndex: &enable}})
	require.NoError(t, err)

	// Non-PK tablets notify the update manager and try to evict the index
	// cache entry exactly like PK tablets do: the original's
	// apply_alter_meta_log has no key-type carve-out.
	assert.Equal(t, 1, mgr.setPersistentIndexCalls)

	md, err := app.Finish()
	require.NoError(t, err)
	assert.True(t, md.EnablePersistentIndex)
}

func TestPKApplier_AlterMetadataTogglesPersistentIndexAndEvictsCache(t *testing.T) {
	mgr := &fakeManager{}
	bldr := newFakeBuilder()
	tb := &fakeTablet{id: 23}
	base := pkBase(23, 1, 1)

	app, err := NewApplier(tb, mgr, bldr, base, 2, nil)
	require.NoError(t, err)
	defer app.Close()

	enable := true
	err = app.Apply(&meta.TxnLog{TxnID: 1, AlterMetadata: &meta.OpAlterMetadata{EnablePersistentIndex: &enable}})
	require.NoError(t, err)

	assert.Equal(t, 1, mgr.setPersistentIndexCalls)
	assert.Equal(t, 1, mgr.tryRemoveCalls)

	md, err := app.Finish()
	require.NoError(t, err)
	assert.True(t, md.EnablePersistentIndex)
}

func TestPKApplier_AlterMetadataRejectsMultiVersionStep(t *testing.T) {
	mgr := &fakeManager{}
	bldr := newFakeBuilder()
	tb := &fakeTablet{id: 24}
	base := pkBase(24, 1, 1)

	app, err := NewApplier(tb, mgr, bldr, base, 3, nil) // jumps two versions
	require.NoError(t, err)
	defer app.Close()

	enable := false
	err = app.Apply(&meta.TxnLog{TxnID: 1, AlterMetadata: &meta.OpAlterMetadata{EnablePersistentIndex: &enable}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestPKApplier_CloseAfterFailureWithoutPreparedEntryIsNoop(t *testing.T) {
	mgr := &fakeManager{}
	mgr.prepareErr = assertErr("prepare boom")
	bldr := newFakeBuilder()
	tb := &fakeTablet{id: 25}
	base := pkBase(25, 1, 1)

	app, err := NewApplier(tb, mgr, bldr, base, 2, nil)
	require.NoError(t, err)

	err = app.Apply(&meta.TxnLog{
		TxnID: 1,
		Write: &meta.OpWrite{Rowset: meta.RowsetMetadata{NumRows: 1, Segments: []meta.SegmentFile{{}}}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)

	app.Close()
	assert.Equal(t, 0, mgr.removeCalls, "index was never prepared, so there is nothing to remove")
	assert.Equal(t, 0, mgr.releaseCalls)
}

func TestPKApplier_CloseAfterFailureWithPreparedEntryRemovesCache(t *testing.T) {
	mgr := &fakeManager{}
	mgr.publishWriteFn = func(op *meta.OpWrite, txnID uint64, md *meta.TabletMetadata) error {
		return assertErr("publish boom")
	}
	bldr := newFakeBuilder()
	tb := &fakeTablet{id: 26}
	base := pkBase(26, 1, 1)

	app, err := NewApplier(tb, mgr, bldr, base, 2, nil)
	require.NoError(t, err)

	err = app.Apply(&meta.TxnLog{
		TxnID: 1,
		Write: &meta.OpWrite{Rowset: meta.RowsetMetadata{NumRows: 1, Segments: []meta.SegmentFile{{}}}},
	})
	require.Error(t, err)

	app.Close()
	assert.Equal(t, 1, mgr.removeCalls)
	assert.Equal(t, 1, mgr.unloadCalls)
	assert.Equal(t, 0, mgr.releaseCalls)

	app.Close() // idempotent
	assert.Equal(t, 1, mgr.removeCalls)
}

func TestPKApplier_SchemaChangeRejectedOnNonFreshTablet(t *testing.T) {
	mgr := &fakeManager{}
	bldr := newFakeBuilder()
	tb := &fakeTablet{id: 27}
	base := pkBase(27, 1, 1, meta.RowsetMetadata{ID: 1})

	app, err := NewApplier(tb, mgr, bldr, base, 2, nil)
	require.NoError(t, err)
	defer app.Close()

	err = app.Apply(&meta.TxnLog{TxnID: 1, SchemaChange: &meta.OpSchemaChange{AlterVersion: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
}

// assertErr is a plain sentinel used where a collaborator must fail and the
// test only cares that the applier maps it through ErrTransient/propagates
// it, not about the underlying message.
type assertErr string

func (e assertErr) Error() string { return string(e) }
