// Package protocol defines the sealdb wire protocol: the message type tags,
// the message variants, their CBOR encoding and the encrypted frame format.
package protocol

import (
	"errors"
	"fmt"
)

// MessageType tags every frame. The numeric values are part of the wire
// format and must never be renumbered.
type MessageType uint8

// Wire values of MessageType.
const (
	TypeSetup MessageType = iota
	TypeAuthentification
	TypeInsert
	TypeInsertResponse
	TypeQuery
	TypeQueryResponse
	TypeSingleValueResponse
	TypeUpdate
	TypeUpdateResponse
	TypeDelete
	TypeDeleteResult
	TypeEndOfCommunication
	TypeCloseCommunication

	typeCount
)

var typeNames = [typeCount]string{
	TypeSetup:               "Setup",
	TypeAuthentification:    "Authentification",
	TypeInsert:              "Insert",
	TypeInsertResponse:      "InsertResponse",
	TypeQuery:               "Query",
	TypeQueryResponse:       "QueryResponse",
	TypeSingleValueResponse: "SingleValueResponse",
	TypeUpdate:              "Update",
	TypeUpdateResponse:      "UpdateResponse",
	TypeDelete:              "Delete",
	TypeDeleteResult:        "DeleteResult",
	TypeEndOfCommunication:  "EndOfCommunication",
	TypeCloseCommunication:  "CloseCommunication",
}

func (t MessageType) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// Valid reports whether t is one of the 13 defined tags.
func (t MessageType) Valid() bool { return t < typeCount }

// ErrMessageType is matched by every *MessageTypeError.
var ErrMessageType = errors.New("fail to parse MessageType")

// MessageTypeError reports an out-of-range tag.
type MessageTypeError struct {
	Value byte
}

func (e *MessageTypeError) Error() string {
	return fmt.Sprintf("%v: %d", ErrMessageType, e.Value)
}

// Is makes errors.Is(err, ErrMessageType) hold.
func (e *MessageTypeError) Is(target error) bool { return target == ErrMessageType }

// ParseMessageType converts a wire byte into a MessageType.
func ParseMessageType(b byte) (MessageType, error) {
	t := MessageType(b)
	if !t.Valid() {
		return 0, &MessageTypeError{Value: b}
	}
	return t, nil
}
