package meta

import "github.com/cockroachdb/errors"

// ErrInternal marks the Internal error kind of spec.md §7: a compaction's
// input rowsets were missing or non-adjacent, or a computed cumulative
// point fell out of range.
var ErrInternal = errors.New("meta: internal invariant violated")

// ApplyWrite implements the non-PK OpWrite of spec.md §4.3.1: a rowset is
// admitted only if it has rows or a delete predicate, and the rowset-id
// allocator always advances by at least one step even for a zero-segment,
// predicate-only rowset.
func (m *TabletMetadata) ApplyWrite(op *OpWrite) {
	if op.Rowset.NumRows == 0 && op.Rowset.DeletePredicate == "" {
		return
	}
	rs := op.Rowset.Clone()
	rs.ID = m.AllocRowsetID(rs.AllocStep())
	m.Rowsets = append(m.Rowsets, rs)
}

// ApplySchemaChange implements the non-PK OpSchemaChange of spec.md §4.3.3.
func (m *TabletMetadata) ApplySchemaChange(op *OpSchemaChange) error {
	if len(m.Rowsets) != 0 {
		return errors.Wrap(ErrInternal, "schema change applied to a non-empty tablet")
	}
	if len(op.DelvecMeta) != 0 {
		return errors.Wrap(ErrInternal, "non-PK schema change must not carry delete vectors")
	}
	for _, r := range op.Rowsets {
		rs := r.Clone()
		m.Rowsets = append(m.Rowsets, rs)
		m.BumpNextRowsetID(rs.ID, rs.AllocStep())
	}
	return nil
}

// ApplyCompaction implements the non-PK OpCompaction of spec.md §4.3.2: the
// most algorithmically dense operation in the applier. sizeTiered mirrors
// Options.EnableSizeTieredCompactionStrategy.
func (m *TabletMetadata) ApplyCompaction(op *OpCompaction, sizeTiered bool) error {
	if len(op.InputRowsetIDs) == 0 {
		return nil
	}

	firstIdx := m.FindRowset(op.InputRowsetIDs[0])
	if firstIdx < 0 {
		return errors.Wrap(ErrInternal, "input rowset not exist")
	}
	prev := firstIdx
	for _, id := range op.InputRowsetIDs[1:] {
		idx := prev + 1
		if idx >= len(m.Rowsets) {
			return errors.Wrap(ErrInternal, "input rowset not exist")
		}
		if m.Rowsets[idx].ID != id {
			return errors.Wrap(ErrInternal, "input rowset position not adjacent")
		}
		prev = idx
	}
	rangeEnd := prev + 1 // exclusive
	oldCumulativePoint := m.CumulativePoint

	// Move the matched contiguous range into CompactionInputs, in order.
	for i := firstIdx; i < rangeEnd; i++ {
		m.CompactionInputs = append(m.CompactionInputs, m.Rowsets[i])
	}

	// A structurally present Output with zero rows is not an emitted
	// rowset (mirrors the teacher's has_output_rowset() && num_rows() > 0
	// gate): treat it the same as a nil Output, a pure-deletion compaction
	// that erases its inputs rather than splicing in a live zero-row rowset.
	hasOutput := op.Output != nil && op.Output.NumRows > 0

	if hasOutput {
		out := op.Output.Clone()
		out.ID = m.NextRowsetID
		m.NextRowsetID += uint32(len(out.Segments))
		m.Rowsets[firstIdx] = out
		m.Rowsets = append(m.Rowsets[:firstIdx+1], m.Rowsets[rangeEnd:]...)
	} else {
		m.Rowsets = append(m.Rowsets[:firstIdx], m.Rowsets[rangeEnd:]...)
	}

	if sizeTiered {
		m.CumulativePoint = 0
		return nil
	}

	inputLen := uint32(len(op.InputRowsetIDs))
	var newPoint uint32
	switch {
	case uint32(firstIdx) >= oldCumulativePoint:
		newPoint = uint32(firstIdx)
	case oldCumulativePoint >= inputLen:
		newPoint = oldCumulativePoint - inputLen
	default:
		newPoint = 0
	}
	if hasOutput {
		newPoint++
	}
	if newPoint > uint32(len(m.Rowsets)) {
		return errors.Wrapf(ErrInternal, "cumulative point %d exceeds rowset count %d", newPoint, len(m.Rowsets))
	}
	m.CumulativePoint = newPoint
	return nil
}
