// Package meta holds the tablet metadata document and the transaction log
// sum type that the applier folds into it.
package meta

import "github.com/RoaringBitmap/roaring"

// KeysType selects which applier variant a tablet is handled by.
type KeysType int

const (
	// PRIMARY tablets carry a live in-memory primary index and delete
	// vectors; writes and compactions mutate rows in place.
	PRIMARY KeysType = iota
	// DUPLICATE tablets are append-only; rows are never updated in place.
	DUPLICATE
	// AGGREGATE tablets are append-only with rows merged at query time.
	AGGREGATE
	// UNIQUE tablets are append-only with uniqueness enforced at query time.
	UNIQUE
)

func (k KeysType) String() string {
	switch k {
	case PRIMARY:
		return "PRIMARY"
	case DUPLICATE:
		return "DUPLICATE"
	case AGGREGATE:
		return "AGGREGATE"
	case UNIQUE:
		return "UNIQUE"
	default:
		return "UNKNOWN"
	}
}

// Column describes a single column of a tablet's schema.
type Column struct {
	Name     string
	Type     string
	IsKey    bool
	Nullable bool
}

// Schema is the column layout of a tablet, plus the key model that selects
// the applier variant.
type Schema struct {
	ID       uint32
	KeysType KeysType
	Columns  []Column
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Columns = append([]Column(nil), s.Columns...)
	return &cp
}

// SegmentFile is a single physical column-segment file belonging to a
// rowset. The applier only ever counts segments and copies descriptors; it
// never opens or reads them (the storage object layer is out of scope).
type SegmentFile struct {
	Path string
}

// RowsetMetadata describes one immutable set of column-segment files.
type RowsetMetadata struct {
	ID              uint32
	Segments        []SegmentFile
	NumRows         uint64
	DeletePredicate string // empty means "no delete predicate"
}

// Clone returns a deep copy of the rowset.
func (r RowsetMetadata) Clone() RowsetMetadata {
	cp := r
	cp.Segments = append([]SegmentFile(nil), r.Segments...)
	return cp
}

// SegmentCount returns len(r.Segments), which is 0 for a rowset with no
// segments. AllocStep clamps it to at least 1 for the rowset-id allocator.
func (r RowsetMetadata) SegmentCount() int {
	if len(r.Segments) == 0 {
		return 0
	}
	return len(r.Segments)
}

// AllocStep is max(1, |segments|), the amount by which NextRowsetID
// advances when this rowset is admitted.
func (r RowsetMetadata) AllocStep() uint32 {
	n := r.SegmentCount()
	if n < 1 {
		n = 1
	}
	return uint32(n)
}

// DelvecLocator points at a persisted delete vector for one segment. The
// applier never dereferences the locator itself; it is opaque storage-layer
// state threaded through unchanged.
type DelvecLocator struct {
	SegmentID uint32
	Locator   string
}

// TabletMetadata is the versioned snapshot a tablet's state is built from.
// Field names and semantics follow spec.md §3 exactly.
type TabletMetadata struct {
	TabletID        uint64
	Version         uint64
	NextRowsetID    uint32
	CumulativePoint uint32

	Rowsets          []RowsetMetadata
	CompactionInputs []RowsetMetadata

	Schema       *Schema
	SourceSchema *Schema

	DelvecMeta map[uint32]DelvecLocator

	EnablePersistentIndex bool
}

// Clone returns a deep copy of the metadata document, suitable for an
// applier to take ownership of and mutate without aliasing the caller's
// base snapshot.
func (m *TabletMetadata) Clone() *TabletMetadata {
	cp := &TabletMetadata{
		TabletID:              m.TabletID,
		Version:               m.Version,
		NextRowsetID:          m.NextRowsetID,
		CumulativePoint:       m.CumulativePoint,
		Schema:                m.Schema.Clone(),
		SourceSchema:          m.SourceSchema.Clone(),
		EnablePersistentIndex: m.EnablePersistentIndex,
	}
	cp.Rowsets = make([]RowsetMetadata, len(m.Rowsets))
	for i, r := range m.Rowsets {
		cp.Rowsets[i] = r.Clone()
	}
	cp.CompactionInputs = make([]RowsetMetadata, len(m.CompactionInputs))
	for i, r := range m.CompactionInputs {
		cp.CompactionInputs[i] = r.Clone()
	}
	if m.DelvecMeta != nil {
		cp.DelvecMeta = make(map[uint32]DelvecLocator, len(m.DelvecMeta))
		for k, v := range m.DelvecMeta {
			cp.DelvecMeta[k] = v
		}
	}
	return cp
}

// FindRowset returns the index of the rowset with the given id, or -1.
func (m *TabletMetadata) FindRowset(id uint32) int {
	for i := range m.Rowsets {
		if m.Rowsets[i].ID == id {
			return i
		}
	}
	return -1
}

// BumpNextRowsetID advances NextRowsetID to at least id+step, matching the
// teacher's monotonic-allocator idiom (internal/manifest.TableMetadata uses
// the equivalent TableNum allocator in VersionEdit application).
func (m *TabletMetadata) BumpNextRowsetID(id, step uint32) {
	if id+step > m.NextRowsetID {
		m.NextRowsetID = id + step
	}
}

// AllocRowsetID returns the next rowset id and advances the allocator by
// step (at least 1).
func (m *TabletMetadata) AllocRowsetID(step uint32) uint32 {
	if step < 1 {
		step = 1
	}
	id := m.NextRowsetID
	m.NextRowsetID += step
	return id
}

// TxnMetaState is the replication state carried by an OpReplication log.
type TxnMetaState int

const (
	// TxnStateUnknown is the zero value; never valid on an applied log.
	TxnStateUnknown TxnMetaState = iota
	// TxnStateReplicated is the only state the applier accepts.
	TxnStateReplicated
)

// RecoverFlag signals whether a PK write or compaction publish needs the
// primary-key recovery envelope (spec.md §4.2.5).
type RecoverFlag int

const (
	// RecoverOK means the publish completed normally.
	RecoverOK RecoverFlag = iota
	// RecoverNeeded means the index/delvec state must be rebuilt from
	// persisted rowsets before the batch can continue.
	RecoverNeeded
	// RecoverNeededWithPublish additionally requires re-invoking the
	// original publish once recovery completes (duplicate-key detected
	// while preparing the index).
	RecoverNeededWithPublish
)

// DeleteVector is an in-memory, mergeable representation of a delete
// vector: the set of row offsets within a segment that are logically
// deleted. Builders accumulate these before the storage layer persists
// them. Modeled as a roaring bitmap, the representation
// github.com/matrixorigin/matrixone's TAE index package
// (pkg/vm/engine/tae/index) uses for the equivalent row-selection bitmap.
type DeleteVector struct {
	SegmentID uint32
	Bitmap    *roaring.Bitmap
}

// NewDeleteVector returns an empty delete vector for the given segment.
func NewDeleteVector(segmentID uint32) *DeleteVector {
	return &DeleteVector{SegmentID: segmentID, Bitmap: roaring.NewBitmap()}
}

// Merge unions other's rows into dv in place.
func (dv *DeleteVector) Merge(other *DeleteVector) {
	if other == nil || other.Bitmap == nil {
		return
	}
	if dv.Bitmap == nil {
		dv.Bitmap = roaring.NewBitmap()
	}
	dv.Bitmap.Or(other.Bitmap)
}

// IsEmpty reports whether the vector marks no rows deleted.
func (dv *DeleteVector) IsEmpty() bool {
	return dv == nil || dv.Bitmap == nil || dv.Bitmap.IsEmpty()
}
