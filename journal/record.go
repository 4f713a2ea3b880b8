package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aligator/fatvol"
	"github.com/aligator/fatvol/checkpoint"
)

// RecordType is the kind of change a Record announces.
type RecordType uint16

const (
	RecordTopLevelOp RecordType = iota + 1
	RecordEntryUpdate
	RecordEntryCreate
	RecordChainAlloc
	RecordChainDelete
)

func (t RecordType) String() string {
	switch t {
	case RecordTopLevelOp:
		return "op"
	case RecordEntryUpdate:
		return "entry-update"
	case RecordEntryCreate:
		return "entry-create"
	case RecordChainAlloc:
		return "chain-alloc"
	case RecordChainDelete:
		return "chain-delete"
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}

// FlagSet is stored in Record.Flags for a new chain or a deletion including the first cluster.
const FlagSet uint16 = 1

// Record is one entry of the log. It is stored in fatvol.JournalRecordSize bytes.
//
// The meaning of A and B depends on the type:
//  RecordTopLevelOp:  A is the reserved log size.
//  RecordEntryUpdate: A and B are the first and the last slot position.
//  RecordEntryCreate: A and B are the first and the last slot position.
//  RecordChainAlloc:  A is the cluster the chain is extended from.
//  RecordChainDelete: A is the first cluster, B the number of clusters.
type Record struct {
	Type  RecordType
	Flags uint16
	Seq   uint32
	A     uint64
	B     uint64
}

func (r Record) String() string {
	switch r.Type {
	case RecordEntryUpdate, RecordEntryCreate:
		return fmt.Sprintf("%d %v %v..%v", r.Seq, r.Type, fatvol.Position(r.A), fatvol.Position(r.B))
	case RecordChainAlloc:
		return fmt.Sprintf("%d %v from %d new=%v", r.Seq, r.Type, r.A, r.Flags&FlagSet != 0)
	case RecordChainDelete:
		return fmt.Sprintf("%d %v %d+%d deleteFirst=%v", r.Seq, r.Type, r.A, r.B, r.Flags&FlagSet != 0)
	}
	return fmt.Sprintf("%d %v %d", r.Seq, r.Type, r.A)
}

func (r Record) marshal() ([]byte, error) {
	out := bytes.NewBuffer(make([]byte, 0, fatvol.JournalRecordSize))
	if err := binary.Write(out, binary.LittleEndian, &r); err != nil {
		return nil, checkpoint.From(err)
	}
	return out.Bytes(), nil
}

func unmarshalRecord(buf []byte) (Record, error) {
	var r Record
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &r)
	return r, checkpoint.From(err)
}
