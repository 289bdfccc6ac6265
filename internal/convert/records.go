// Package convert maps domain records to and from their wire form.
package convert

import (
	"github.com/and161185/sealdb/internal/model"
	"github.com/and161185/sealdb/internal/protocol"
)

// ToWireRecord converts a stored record for a QueryResponse.
func ToWireRecord(r model.Record) protocol.Record {
	return protocol.Record{
		ID:         r.ID,
		Collection: r.Collection,
		Data:       r.Data,
		ACL:        r.ACL,
		Usecases:   r.Usecases,
	}
}

// ToWireRecords converts a batch. A nil or empty batch gives nil.
func ToWireRecords(in []model.Record) []protocol.Record {
	if len(in) == 0 {
		return nil
	}
	out := make([]protocol.Record, len(in))
	for i, r := range in {
		out[i] = ToWireRecord(r)
	}
	return out
}
