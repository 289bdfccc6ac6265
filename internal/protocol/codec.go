package protocol

import (
	"errors"
	"fmt"

	"github.com/and161185/sealdb/internal/codec"
)

// ErrMalformedMessage reports a payload that does not decode into the
// variant its tag names.
var ErrMalformedMessage = errors.New("malformed message")

// Encode serializes msg. The tag is returned next to the payload; it is never
// inferred from the payload bytes.
func Encode(msg Message) (MessageType, []byte, error) {
	if msg == nil {
		return 0, nil, errors.New("protocol: encode nil message")
	}
	payload, err := codec.Marshal(msg)
	if err != nil {
		return 0, nil, fmt.Errorf("protocol: encode %s: %w", msg.Type(), err)
	}
	return msg.Type(), payload, nil
}

// Decode deserializes payload as the variant named by t.
func Decode(t MessageType, payload []byte) (Message, error) {
	var (
		msg Message
		err error
	)
	switch t {
	case TypeSetup:
		msg, err = decodeAs[ClientSetup](payload)
	case TypeAuthentification:
		msg, err = decodeAs[ClientAuthentication](payload)
	case TypeInsert:
		msg, err = decodeAs[Insertion](payload)
	case TypeInsertResponse:
		msg, err = decodeAs[InsertResponse](payload)
	case TypeQuery:
		msg, err = decodeAs[QueryRequest](payload)
	case TypeQueryResponse:
		msg, err = decodeAs[QueryResponse](payload)
	case TypeSingleValueResponse:
		msg, err = decodeAs[SingleValueResponse](payload)
	case TypeUpdate:
		msg, err = decodeAs[Update](payload)
	case TypeUpdateResponse:
		msg, err = decodeAs[UpdateResponse](payload)
	case TypeDelete:
		msg, err = decodeAs[Delete](payload)
	case TypeDeleteResult:
		msg, err = decodeAs[DeleteResult](payload)
	case TypeEndOfCommunication:
		msg, err = decodeAs[EndOfCommunication](payload)
	case TypeCloseCommunication:
		msg, err = decodeAs[CloseCommunication](payload)
	default:
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, &MessageTypeError{Value: byte(t)})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, t, err)
	}
	return msg, nil
}

func decodeAs[T Message](payload []byte) (Message, error) {
	var v T
	if err := codec.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}
