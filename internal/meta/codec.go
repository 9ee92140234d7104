package meta

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
)

// Wire format for TabletMetadata: a tagged, varint-prefixed binary encoding
// in the style of the teacher's internal/manifest.VersionEdit.Encode /
// Decode. Bit-exact compatibility with an existing persisted document only
// matters to the storage layer that owns the bytes on disk; this codec
// exists so the applier's output can round-trip through that layer without
// the storage layer needing to know this package's Go types.

const (
	tagTabletID        = 1
	tagVersion         = 2
	tagNextRowsetID    = 3
	tagCumulativePoint = 4
	tagRowset          = 5
	tagCompactionInput = 6
	tagDelvecEntry     = 7
	tagPersistentIndex = 8
	tagTerminate       = 0xff
)

var errCorruptMetadata = errors.New("meta: corrupt tablet metadata")

type byteReader interface {
	io.ByteReader
	io.Reader
}

// Encode writes m to w in the tagged binary wire format. Schema,
// SourceSchema, and KeysType are deliberately not part of the wire format:
// schema evolution and layout are out of scope per spec.md §1, so the
// storage layer is expected to persist those fields through its own
// schema-specific encoding and hand the applier a fully populated Schema
// pointer on decode.
func (m *TabletMetadata) Encode(w io.Writer) error {
	e := metaEncoder{new(bytes.Buffer)}
	e.writeUvarint(tagTabletID)
	e.writeUvarint(m.TabletID)
	e.writeUvarint(tagVersion)
	e.writeUvarint(m.Version)
	e.writeUvarint(tagNextRowsetID)
	e.writeUvarint(uint64(m.NextRowsetID))
	e.writeUvarint(tagCumulativePoint)
	e.writeUvarint(uint64(m.CumulativePoint))
	for _, r := range m.Rowsets {
		e.writeUvarint(tagRowset)
		e.writeRowset(r)
	}
	for _, r := range m.CompactionInputs {
		e.writeUvarint(tagCompactionInput)
		e.writeRowset(r)
	}
	for _, d := range m.DelvecMeta {
		e.writeUvarint(tagDelvecEntry)
		e.writeUvarint(uint64(d.SegmentID))
		e.writeString(d.Locator)
	}
	e.writeUvarint(tagPersistentIndex)
	if m.EnablePersistentIndex {
		e.writeUvarint(1)
	} else {
		e.writeUvarint(0)
	}
	e.writeUvarint(tagTerminate)
	_, err := w.Write(e.Bytes())
	return err
}

// Decode reads a TabletMetadata previously written by Encode. The caller
// is responsible for setting Schema/SourceSchema/KeysType afterward.
func Decode(r io.Reader) (*TabletMetadata, error) {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := metaDecoder{br}
	m := &TabletMetadata{}
	for {
		tag, err := binary.ReadUvarint(br)
		if err != nil {
			if err == io.EOF {
				return nil, errCorruptMetadata
			}
			return nil, err
		}
		switch tag {
		case tagTerminate:
			return m, nil
		case tagTabletID:
			if m.TabletID, err = d.readUvarint(); err != nil {
				return nil, err
			}
		case tagVersion:
			if m.Version, err = d.readUvarint(); err != nil {
				return nil, err
			}
		case tagNextRowsetID:
			v, err := d.readUvarint()
			if err != nil {
				return nil, err
			}
			m.NextRowsetID = uint32(v)
		case tagCumulativePoint:
			v, err := d.readUvarint()
			if err != nil {
				return nil, err
			}
			m.CumulativePoint = uint32(v)
		case tagRowset:
			rs, err := d.readRowset()
			if err != nil {
				return nil, err
			}
			m.Rowsets = append(m.Rowsets, rs)
		case tagCompactionInput:
			rs, err := d.readRowset()
			if err != nil {
				return nil, err
			}
			m.CompactionInputs = append(m.CompactionInputs, rs)
		case tagDelvecEntry:
			segID, err := d.readUvarint()
			if err != nil {
				return nil, err
			}
			loc, err := d.readString()
			if err != nil {
				return nil, err
			}
			if m.DelvecMeta == nil {
				m.DelvecMeta = make(map[uint32]DelvecLocator)
			}
			m.DelvecMeta[uint32(segID)] = DelvecLocator{SegmentID: uint32(segID), Locator: loc}
		case tagPersistentIndex:
			v, err := d.readUvarint()
			if err != nil {
				return nil, err
			}
			m.EnablePersistentIndex = v != 0
		default:
			return nil, errors.Wrapf(errCorruptMetadata, "unknown tag %d", tag)
		}
	}
}

// Wire format for TxnLog, colocated with TabletMetadata's codec above per
// SPEC_FULL.md §3: the same tagged, varint-prefixed encoding, dispatched on
// TxnLog.Kind() so exactly one op payload is ever written. As with
// TabletMetadata.Encode/Decode, schema payloads (OpAlterMetadata's
// TabletSchema, OpReplication's SourceSchema) are left out of the wire
// format: schema layout is out of scope (spec.md §1), so the storage layer
// persists those through its own schema-specific encoding and re-attaches
// them to the decoded TxnLog afterward.
const (
	txnTagTxnID         = 1
	txnTagWrite         = 2
	txnTagCompaction    = 3
	txnTagSchemaChange  = 4
	txnTagAlterMetadata = 5
	txnTagReplication   = 6
	txnTagTerminate     = 0xff
)

var errCorruptTxnLog = errors.New("meta: corrupt transaction log")

// Encode writes l to w in the tagged binary wire format. It panics via
// l.Kind() if l carries more than one op payload.
func (l *TxnLog) Encode(w io.Writer) error {
	e := metaEncoder{Buffer: new(bytes.Buffer)}
	e.writeUvarint(txnTagTxnID)
	e.writeUvarint(l.TxnID)

	var err error
	switch l.Kind() {
	case KindWrite:
		e.writeUvarint(txnTagWrite)
		err = e.writeOpWrite(*l.Write)
	case KindCompaction:
		e.writeUvarint(txnTagCompaction)
		e.writeOpCompaction(*l.Compaction)
	case KindSchemaChange:
		e.writeUvarint(txnTagSchemaChange)
		e.writeOpSchemaChange(*l.SchemaChange)
	case KindAlterMetadata:
		e.writeUvarint(txnTagAlterMetadata)
		e.writeOpAlterMetadata(*l.AlterMetadata)
	case KindReplication:
		e.writeUvarint(txnTagReplication)
		err = e.writeOpReplication(*l.Replication)
	}
	if err != nil {
		return err
	}

	e.writeUvarint(txnTagTerminate)
	_, err = w.Write(e.Bytes())
	return err
}

// DecodeTxnLog reads a TxnLog previously written by TxnLog.Encode. The
// caller is responsible for setting OpAlterMetadata.TabletSchema and
// OpReplication.SourceSchema afterward, the same way TabletMetadata.Decode
// leaves Schema/SourceSchema for the caller to attach.
func DecodeTxnLog(r io.Reader) (*TxnLog, error) {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := metaDecoder{br}
	l := &TxnLog{}
	for {
		tag, err := binary.ReadUvarint(br)
		if err != nil {
			if err == io.EOF {
				return nil, errCorruptTxnLog
			}
			return nil, err
		}
		switch tag {
		case txnTagTerminate:
			return l, nil
		case txnTagTxnID:
			if l.TxnID, err = d.readUvarint(); err != nil {
				return nil, err
			}
		case txnTagWrite:
			op, err := d.readOpWrite()
			if err != nil {
				return nil, err
			}
			l.Write = &op
		case txnTagCompaction:
			op, err := d.readOpCompaction()
			if err != nil {
				return nil, err
			}
			l.Compaction = &op
		case txnTagSchemaChange:
			op, err := d.readOpSchemaChange()
			if err != nil {
				return nil, err
			}
			l.SchemaChange = &op
		case txnTagAlterMetadata:
			op, err := d.readOpAlterMetadata()
			if err != nil {
				return nil, err
			}
			l.AlterMetadata = &op
		case txnTagReplication:
			op, err := d.readOpReplication()
			if err != nil {
				return nil, err
			}
			l.Replication = &op
		default:
			return nil, errors.Wrapf(errCorruptTxnLog, "unknown tag %d", tag)
		}
	}
}

type metaEncoder struct {
	*bytes.Buffer
}

func (e metaEncoder) writeRowset(r RowsetMetadata) {
	e.writeUvarint(uint64(r.ID))
	e.writeUvarint(r.NumRows)
	e.writeUvarint(uint64(len(r.Segments)))
	for _, s := range r.Segments {
		e.writeString(s.Path)
	}
	e.writeString(r.DeletePredicate)
}

func (e metaEncoder) writeString(s string) {
	e.writeUvarint(uint64(len(s)))
	e.WriteString(s)
}

func (e metaEncoder) writeBytes(b []byte) {
	e.writeUvarint(uint64(len(b)))
	e.Write(b)
}

func (e metaEncoder) writeUvarint(u uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	e.Write(buf[:n])
}

func (e metaEncoder) writeOpWrite(op OpWrite) error {
	e.writeRowset(op.Rowset)
	if op.Deletes != nil {
		data, err := op.Deletes.MarshalBinary()
		if err != nil {
			return errors.Wrap(err, "marshal delete bitmap")
		}
		e.writeUvarint(1)
		e.writeBytes(data)
	} else {
		e.writeUvarint(0)
	}
	return nil
}

func (e metaEncoder) writeOpCompaction(op OpCompaction) {
	e.writeUvarint(uint64(len(op.InputRowsetIDs)))
	for _, id := range op.InputRowsetIDs {
		e.writeUvarint(uint64(id))
	}
	if op.Output != nil {
		e.writeUvarint(1)
		e.writeRowset(*op.Output)
	} else {
		e.writeUvarint(0)
	}
}

func (e metaEncoder) writeOpSchemaChange(op OpSchemaChange) {
	e.writeUvarint(op.AlterVersion)
	e.writeUvarint(uint64(len(op.Rowsets)))
	for _, r := range op.Rowsets {
		e.writeRowset(r)
	}
	e.writeUvarint(uint64(len(op.DelvecMeta)))
	for segID, loc := range op.DelvecMeta {
		e.writeUvarint(uint64(segID))
		e.writeString(loc.Locator)
	}
	if op.LinkedSegment {
		e.writeUvarint(1)
	} else {
		e.writeUvarint(0)
	}
}

func (e metaEncoder) writeOpAlterMetadata(op OpAlterMetadata) {
	if op.EnablePersistentIndex == nil {
		e.writeUvarint(0)
		return
	}
	e.writeUvarint(1)
	if *op.EnablePersistentIndex {
		e.writeUvarint(1)
	} else {
		e.writeUvarint(0)
	}
}

func (e metaEncoder) writeOpReplication(op OpReplication) error {
	e.writeUvarint(uint64(op.TxnState))
	e.writeUvarint(op.SnapshotVersion)
	if op.Incremental {
		e.writeUvarint(1)
	} else {
		e.writeUvarint(0)
	}
	e.writeUvarint(uint64(len(op.Writes)))
	for _, w := range op.Writes {
		if err := e.writeOpWrite(w); err != nil {
			return err
		}
	}
	e.writeUvarint(uint64(len(op.Delvecs)))
	for segID, loc := range op.Delvecs {
		e.writeUvarint(uint64(segID))
		e.writeString(loc.Locator)
	}
	return nil
}

type metaDecoder struct {
	byteReader
}

func (d metaDecoder) readRowset() (RowsetMetadata, error) {
	var r RowsetMetadata
	id, err := d.readUvarint()
	if err != nil {
		return r, err
	}
	r.ID = uint32(id)
	if r.NumRows, err = d.readUvarint(); err != nil {
		return r, err
	}
	n, err := d.readUvarint()
	if err != nil {
		return r, err
	}
	r.Segments = make([]SegmentFile, n)
	for i := range r.Segments {
		path, err := d.readString()
		if err != nil {
			return r, err
		}
		r.Segments[i] = SegmentFile{Path: path}
	}
	if r.DeletePredicate, err = d.readString(); err != nil {
		return r, err
	}
	return r, nil
}

func (d metaDecoder) readString() (string, error) {
	n, err := d.readUvarint()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return "", errCorruptMetadata
		}
		return "", err
	}
	return string(buf), nil
}

func (d metaDecoder) readUvarint() (uint64, error) {
	u, err := binary.ReadUvarint(d)
	if err != nil {
		if err == io.EOF {
			return 0, errCorruptMetadata
		}
		return 0, err
	}
	return u, nil
}

func (d metaDecoder) readBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errCorruptMetadata
		}
		return nil, err
	}
	return buf, nil
}

func (d metaDecoder) readOpWrite() (OpWrite, error) {
	var op OpWrite
	rs, err := d.readRowset()
	if err != nil {
		return op, err
	}
	op.Rowset = rs

	present, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	if present != 0 {
		data, err := d.readBytes()
		if err != nil {
			return op, err
		}
		bm := roaring.NewBitmap()
		if err := bm.UnmarshalBinary(data); err != nil {
			return op, errors.Wrapf(errCorruptTxnLog, "unmarshal delete bitmap: %v", err)
		}
		op.Deletes = bm
	}
	return op, nil
}

func (d metaDecoder) readOpCompaction() (OpCompaction, error) {
	var op OpCompaction
	n, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	op.InputRowsetIDs = make([]uint32, n)
	for i := range op.InputRowsetIDs {
		v, err := d.readUvarint()
		if err != nil {
			return op, err
		}
		op.InputRowsetIDs[i] = uint32(v)
	}

	present, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	if present != 0 {
		rs, err := d.readRowset()
		if err != nil {
			return op, err
		}
		op.Output = &rs
	}
	return op, nil
}

func (d metaDecoder) readOpSchemaChange() (OpSchemaChange, error) {
	var op OpSchemaChange
	var err error
	if op.AlterVersion, err = d.readUvarint(); err != nil {
		return op, err
	}

	n, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	op.Rowsets = make([]RowsetMetadata, n)
	for i := range op.Rowsets {
		if op.Rowsets[i], err = d.readRowset(); err != nil {
			return op, err
		}
	}

	dn, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	if dn > 0 {
		op.DelvecMeta = make(map[uint32]DelvecLocator, dn)
		for i := uint64(0); i < dn; i++ {
			segID, err := d.readUvarint()
			if err != nil {
				return op, err
			}
			loc, err := d.readString()
			if err != nil {
				return op, err
			}
			op.DelvecMeta[uint32(segID)] = DelvecLocator{SegmentID: uint32(segID), Locator: loc}
		}
	}

	linked, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	op.LinkedSegment = linked != 0
	return op, nil
}

func (d metaDecoder) readOpAlterMetadata() (OpAlterMetadata, error) {
	var op OpAlterMetadata
	present, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	if present != 0 {
		v, err := d.readUvarint()
		if err != nil {
			return op, err
		}
		enabled := v != 0
		op.EnablePersistentIndex = &enabled
	}
	return op, nil
}

func (d metaDecoder) readOpReplication() (OpReplication, error) {
	var op OpReplication
	st, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	op.TxnState = TxnMetaState(st)
	if op.SnapshotVersion, err = d.readUvarint(); err != nil {
		return op, err
	}

	inc, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	op.Incremental = inc != 0

	n, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	op.Writes = make([]OpWrite, n)
	for i := range op.Writes {
		if op.Writes[i], err = d.readOpWrite(); err != nil {
			return op, err
		}
	}

	dn, err := d.readUvarint()
	if err != nil {
		return op, err
	}
	if dn > 0 {
		op.Delvecs = make(map[uint32]DelvecLocator, dn)
		for i := uint64(0); i < dn; i++ {
			segID, err := d.readUvarint()
			if err != nil {
				return op, err
			}
			loc, err := d.readString()
			if err != nil {
				return op, err
			}
			op.Delvecs[uint32(segID)] = DelvecLocator{SegmentID: uint32(segID), Locator: loc}
		}
	}
	return op, nil
}
