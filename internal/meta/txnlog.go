package meta

import "github.com/RoaringBitmap/roaring"

// LogKind identifies which of TxnLog's mutually exclusive payloads is set.
type LogKind int

const (
	// KindNone marks a TxnLog with no payload set; never valid to apply.
	KindNone LogKind = iota
	KindWrite
	KindCompaction
	KindSchemaChange
	KindAlterMetadata
	KindReplication
)

func (k LogKind) String() string {
	switch k {
	case KindWrite:
		return "Write"
	case KindCompaction:
		return "Compaction"
	case KindSchemaChange:
		return "SchemaChange"
	case KindAlterMetadata:
		return "AlterMetadata"
	case KindReplication:
		return "Replication"
	default:
		return "None"
	}
}

// OpWrite is an ingest: one new rowset, plus (for PK tablets) the set of
// existing primary keys it deletes.
type OpWrite struct {
	Rowset  RowsetMetadata
	Deletes *roaring.Bitmap // primary keys deleted by this write; PK only
}

// HasNoEffect reports whether this write carries zero deletes, zero new
// rows, and no delete predicate — the PK short-circuit condition of
// spec.md §4.2.1. A write carrying a delete predicate is never a no-effect
// write, even with zero rows and DelsSize()==0. The non-PK path
// ((*TabletMetadata).ApplyWrite) does not use this check: it ignores
// Deletes and drops a write whenever it has zero rows and no delete
// predicate.
func (w *OpWrite) HasNoEffect() bool {
	return w.DelsSize() == 0 && w.Rowset.NumRows == 0 && w.Rowset.DeletePredicate == ""
}

// DelsSize returns the number of primary keys this write deletes.
func (w *OpWrite) DelsSize() int {
	if w.Deletes == nil {
		return 0
	}
	return int(w.Deletes.GetCardinality())
}

// OpCompaction merges InputRowsetIDs (which must be contiguous in the
// tablet's rowset list at apply time) into at most one Output rowset. A nil
// Output means a pure-deletion compaction that erases its inputs.
type OpCompaction struct {
	InputRowsetIDs []uint32
	Output         *RowsetMetadata
}

// OpSchemaChange installs the first rowsets of a freshly created tablet
// under a (possibly new) schema.
type OpSchemaChange struct {
	AlterVersion  uint64
	Rowsets       []RowsetMetadata
	DelvecMeta    map[uint32]DelvecLocator
	LinkedSegment bool
}

// OpAlterMetadata toggles persistent-index mode and/or swaps the schema in
// place. EnablePersistentIndex is a pointer so "unset" is distinguishable
// from "set to false".
type OpAlterMetadata struct {
	EnablePersistentIndex *bool
	TabletSchema          *Schema
}

// OpReplication ingests another tablet's state, either as an incremental
// sequence of writes or as a full snapshot replacing all rowsets.
type OpReplication struct {
	TxnState        TxnMetaState
	SnapshotVersion uint64
	Incremental     bool
	Writes          []OpWrite
	Delvecs         map[uint32]DelvecLocator // keyed by source segment id
	SourceSchema    *Schema
}

// TxnLog is a tagged union over exactly one of {Write, Compaction,
// SchemaChange, AlterMetadata, Replication}, per spec.md §3/§9.
type TxnLog struct {
	TxnID uint64

	Write         *OpWrite
	Compaction    *OpCompaction
	SchemaChange  *OpSchemaChange
	AlterMetadata *OpAlterMetadata
	Replication   *OpReplication
}

// Kind reports which payload is set. It panics if more than one is set:
// the wire format is expected to enforce the closed-sum-type invariant,
// and a log violating it is a decode-time bug, not a runtime condition the
// applier should silently tolerate.
func (l *TxnLog) Kind() LogKind {
	n := 0
	k := KindNone
	if l.Write != nil {
		n++
		k = KindWrite
	}
	if l.Compaction != nil {
		n++
		k = KindCompaction
	}
	if l.SchemaChange != nil {
		n++
		k = KindSchemaChange
	}
	if l.AlterMetadata != nil {
		n++
		k = KindAlterMetadata
	}
	if l.Replication != nil {
		n++
		k = KindReplication
	}
	if n > 1 {
		panic("meta: TxnLog carries more than one op kind")
	}
	return k
}
