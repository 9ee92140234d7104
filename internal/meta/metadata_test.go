package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTabletMetadata_Clone_DeepCopies(t *testing.T) {
	m := &TabletMetadata{
		TabletID: 1,
		Rowsets:  []RowsetMetadata{{ID: 1, Segments: []SegmentFile{{Path: "a"}}}},
		Schema:   &Schema{ID: 1, Columns: []Column{{Name: "k", IsKey: true}}},
		DelvecMeta: map[uint32]DelvecLocator{1: {SegmentID: 1, Locator: "x"}},
	}
	cp := m.Clone()
	cp.Rowsets[0].ID = 99
	cp.Schema.Columns[0].Name = "changed"
	cp.DelvecMeta[1] = DelvecLocator{SegmentID: 1, Locator: "mutated"}

	assert.EqualValues(t, 1, m.Rowsets[0].ID)
	assert.Equal(t, "k", m.Schema.Columns[0].Name)
	assert.Equal(t, "x", m.DelvecMeta[1].Locator)
}

func TestTabletMetadata_Clone_NilSchema(t *testing.T) {
	m := &TabletMetadata{TabletID: 1}
	cp := m.Clone()
	assert.Nil(t, cp.Schema)
	assert.Nil(t, cp.SourceSchema)
}

func TestTabletMetadata_FindRowset(t *testing.T) {
	m := &TabletMetadata{Rowsets: []RowsetMetadata{{ID: 3}, {ID: 7}}}
	assert.Equal(t, 1, m.FindRowset(7))
	assert.Equal(t, -1, m.FindRowset(8))
}

func TestTabletMetadata_AllocRowsetID(t *testing.T) {
	m := &TabletMetadata{NextRowsetID: 5}
	id := m.AllocRowsetID(3)
	assert.EqualValues(t, 5, id)
	assert.EqualValues(t, 8, m.NextRowsetID)

	id2 := m.AllocRowsetID(0) // step clamps to 1
	assert.EqualValues(t, 8, id2)
	assert.EqualValues(t, 9, m.NextRowsetID)
}

func TestTabletMetadata_BumpNextRowsetID_OnlyAdvances(t *testing.T) {
	m := &TabletMetadata{NextRowsetID: 10}
	m.BumpNextRowsetID(2, 3) // 2+3=5, below 10: no-op
	assert.EqualValues(t, 10, m.NextRowsetID)
	m.BumpNextRowsetID(9, 5) // 9+5=14, above 10: advances
	assert.EqualValues(t, 14, m.NextRowsetID)
}

func TestRowsetMetadata_AllocStep(t *testing.T) {
	r := RowsetMetadata{}
	assert.EqualValues(t, 1, r.AllocStep()) // zero segments still steps by 1
	r.Segments = []SegmentFile{{}, {}, {}}
	assert.EqualValues(t, 3, r.AllocStep())
}

func TestDeleteVector_MergeAndEmpty(t *testing.T) {
	dv := NewDeleteVector(1)
	require.True(t, dv.IsEmpty())

	other := NewDeleteVector(1)
	other.Bitmap.Add(5)
	other.Bitmap.Add(9)

	dv.Merge(other)
	assert.False(t, dv.IsEmpty())
	assert.True(t, dv.Bitmap.Contains(5))
	assert.True(t, dv.Bitmap.Contains(9))
}

func TestDeleteVector_MergeNilIsNoop(t *testing.T) {
	dv := NewDeleteVector(1)
	dv.Merge(nil)
	assert.True(t, dv.IsEmpty())
}
