package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned by Decode for an unrecognized envelope kind.
var ErrUnknownKind = errors.New("unknown envelope kind")

// wireFrame is the outer JSON object: a kind tag plus the variant body.
type wireFrame struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Encode serializes an envelope into its framed wire form.
func Encode(env Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s body: %w", env.Kind(), err)
	}
	return json.Marshal(wireFrame{Kind: env.Kind(), Body: body})
}

// Decode parses a framed wire message back into its typed envelope.
func Decode(data []byte) (Envelope, error) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope frame: %w", err)
	}

	var env Envelope
	switch frame.Kind {
	case KindTransferRequest:
		env = &TransferRequest{}
	case KindTransferResponse:
		env = &TransferResponse{}
	case KindChunkData:
		env = &ChunkData{}
	case KindChunkAck:
		env = &ChunkAck{}
	case KindTransferConfirmation:
		env = &TransferConfirmation{}
	case KindStatusQuery:
		env = &StatusQuery{}
	case KindStatusResponse:
		env = &StatusResponse{}
	case KindTransferCancel:
		env = &TransferCancel{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, frame.Kind)
	}

	if err := json.Unmarshal(frame.Body, env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s body: %w", frame.Kind, err)
	}
	return deref(env), nil
}

// deref returns the value form so callers can type-switch on concrete
// structs rather than pointers.
func deref(env Envelope) Envelope {
	switch v := env.(type) {
	case *TransferRequest:
		return *v
	case *TransferResponse:
		return *v
	case *ChunkData:
		return *v
	case *ChunkAck:
		return *v
	case *TransferConfirmation:
		return *v
	case *StatusQuery:
		return *v
	case *StatusResponse:
		return *v
	case *TransferCancel:
		return *v
	default:
		return env
	}
}

// EncodedSize reports the exact framed size of an envelope, the number the
// relay validates against its hard message ceiling.
func EncodedSize(env Envelope) (int, error) {
	data, err := Encode(env)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
