package protocol

import (
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sealdb/internal/codec"
	"github.com/and161185/sealdb/internal/query"
)

// Version is the protocol version announced in ClientSetup.
const Version = 1

// Message is one protocol message. The set of implementations is closed;
// each variant maps to exactly one MessageType.
type Message interface {
	Type() MessageType
	isMessage()
}

// ClientSetup opens a session and announces the client version.
type ClientSetup struct {
	Version    uint16 `cbor:"version"`
	ClientName string `cbor:"client,omitempty"`
}

// ClientAuthentication carries either username/password or a session token
// from a previous authentication.
type ClientAuthentication struct {
	Username string `cbor:"username,omitempty"`
	Password string `cbor:"password,omitempty"`
	Token    string `cbor:"token,omitempty"`
}

// Insertion stores one record.
type Insertion struct {
	Collection string   `cbor:"collection"`
	Data       []byte   `cbor:"data"`
	ACL        []string `cbor:"acl"`
	Usecases   []string `cbor:"usecases"`
}

// QueryRequest asks for the records matching a query tree.
type QueryRequest struct {
	Query query.Query `cbor:"-"`
}

// Update replaces the payload and tags of an existing record.
type Update struct {
	ID       uuid.UUID `cbor:"id"`
	Data     []byte    `cbor:"data"`
	ACL      []string  `cbor:"acl"`
	Usecases []string  `cbor:"usecases"`
}

// Delete removes a record.
type Delete struct {
	ID uuid.UUID `cbor:"id"`
}

// EndOfCommunication asks the server to end the session.
type EndOfCommunication struct{}

// InsertResponse returns the identifier assigned to an insertion, or the
// reason it failed.
type InsertResponse struct {
	ID    uuid.UUID `cbor:"id"`
	Error string    `cbor:"error,omitempty"`
}

// Record is a stored record as sent to clients.
type Record struct {
	ID         uuid.UUID `cbor:"id"`
	Collection string    `cbor:"collection"`
	Data       []byte    `cbor:"data"`
	ACL        []string  `cbor:"acl"`
	Usecases   []string  `cbor:"usecases"`
}

// QueryResponse carries one batch of query results. The last batch of a
// result has Last set; a result may consist of a single empty last batch.
type QueryResponse struct {
	Records []Record `cbor:"records"`
	Last    bool     `cbor:"last"`
}

// SingleValueResponse is a generic status reply.
type SingleValueResponse struct {
	OK    bool   `cbor:"ok"`
	Value []byte `cbor:"value,omitempty"`
	Error string `cbor:"error,omitempty"`
}

// UpdateResponse reports the outcome of an Update.
type UpdateResponse struct {
	ID      uuid.UUID `cbor:"id"`
	Updated bool      `cbor:"updated"`
	Error   string    `cbor:"error,omitempty"`
}

// DeleteResult reports the outcome of a Delete.
type DeleteResult struct {
	ID      uuid.UUID `cbor:"id"`
	Deleted bool      `cbor:"deleted"`
	Error   string    `cbor:"error,omitempty"`
}

// CloseCommunication tells the peer the server is closing the session.
type CloseCommunication struct {
	Reason string `cbor:"reason,omitempty"`
}

func (ClientSetup) Type() MessageType          { return TypeSetup }
func (ClientAuthentication) Type() MessageType { return TypeAuthentification }
func (Insertion) Type() MessageType            { return TypeInsert }
func (InsertResponse) Type() MessageType       { return TypeInsertResponse }
func (QueryRequest) Type() MessageType         { return TypeQuery }
func (QueryResponse) Type() MessageType        { return TypeQueryResponse }
func (SingleValueResponse) Type() MessageType  { return TypeSingleValueResponse }
func (Update) Type() MessageType               { return TypeUpdate }
func (UpdateResponse) Type() MessageType       { return TypeUpdateResponse }
func (Delete) Type() MessageType               { return TypeDelete }
func (DeleteResult) Type() MessageType         { return TypeDeleteResult }
func (EndOfCommunication) Type() MessageType   { return TypeEndOfCommunication }
func (CloseCommunication) Type() MessageType   { return TypeCloseCommunication }

func (ClientSetup) isMessage()          {}
func (ClientAuthentication) isMessage() {}
func (Insertion) isMessage()            {}
func (InsertResponse) isMessage()       {}
func (QueryRequest) isMessage()         {}
func (QueryResponse) isMessage()        {}
func (SingleValueResponse) isMessage()  {}
func (Update) isMessage()               {}
func (UpdateResponse) isMessage()       {}
func (Delete) isMessage()               {}
func (DeleteResult) isMessage()         {}
func (EndOfCommunication) isMessage()   {}
func (CloseCommunication) isMessage()   {}

// queryPayload is the CBOR shape of QueryRequest.
type queryPayload struct {
	Tree query.Wire `cbor:"tree"`
}

// MarshalCBOR encodes the query tree through its wire form.
func (m QueryRequest) MarshalCBOR() ([]byte, error) {
	if err := query.Validate(m.Query); err != nil {
		return nil, err
	}
	return codec.Marshal(queryPayload{Tree: query.ToWire(m.Query)})
}

// UnmarshalCBOR decodes and validates the query tree.
func (m *QueryRequest) UnmarshalCBOR(data []byte) error {
	var p queryPayload
	if err := codec.Unmarshal(data, &p); err != nil {
		return err
	}
	q, err := query.FromWire(p.Tree)
	if err != nil {
		return err
	}
	m.Query = q
	return nil
}
