package protocol

// This file defines the envelopes exchanged over the relay channel.
// Every message is a tagged variant: one Kind plus one fixed field set.
// The relay forwards envelopes verbatim and never inspects anything
// beyond Kind, routing and encoded size.

// Kind identifies the envelope variant on the wire.
type Kind string

const (
	KindTransferRequest      Kind = "transfer_request"
	KindTransferResponse     Kind = "transfer_response"
	KindChunkData            Kind = "chunk_data"
	KindChunkAck             Kind = "chunk_ack"
	KindTransferConfirmation Kind = "transfer_confirmation"
	KindStatusQuery          Kind = "status_query"
	KindStatusResponse       Kind = "status_response"
	KindTransferCancel       Kind = "transfer_cancel"
)

// Routing identifies the two endpoints of an envelope on the relay.
type Routing struct {
	SenderPeer string `json:"sender_peer"`
	TargetPeer string `json:"target_peer"`
}

// Route returns the routing information; embedding Routing gives every
// envelope this method.
func (r Routing) Route() Routing { return r }

// Envelope is implemented by every wire message variant.
type Envelope interface {
	Kind() Kind
	TransferID() string
	Route() Routing
}

// TransferRequest opens a transfer: it declares the payload metadata and
// the chunk geometry that is authoritative for the whole transfer.
type TransferRequest struct {
	Routing
	ID          string `json:"transfer_id"`
	FileName    string `json:"file_name"`
	TotalLength int64  `json:"total_length"`
	ContentType string `json:"content_type"`
	TotalChunks int    `json:"total_chunks"`
	ChunkLength int32  `json:"chunk_length"`
	Digest      string `json:"digest"`
}

func (e TransferRequest) Kind() Kind         { return KindTransferRequest }
func (e TransferRequest) TransferID() string { return e.ID }

// TransferResponse carries the receiver's accept/reject decision.
type TransferResponse struct {
	Routing
	ID       string `json:"transfer_id"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

func (e TransferResponse) Kind() Kind         { return KindTransferResponse }
func (e TransferResponse) TransferID() string { return e.ID }

// ChunkData is one wire unit of payload. Payload is base64-encoded by the
// JSON codec; the size budgeter accounts for that inflation.
type ChunkData struct {
	Routing
	ID         string `json:"transfer_id"`
	Index      int    `json:"chunk_index"`
	Payload    []byte `json:"payload"`
	IsLast     bool   `json:"is_last"`
	RequireAck bool   `json:"require_ack"`
}

func (e ChunkData) Kind() Kind         { return KindChunkData }
func (e ChunkData) TransferID() string { return e.ID }

// ChunkAck acknowledges a single chunk index.
type ChunkAck struct {
	Routing
	ID      string `json:"transfer_id"`
	Index   int    `json:"chunk_index"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (e ChunkAck) Kind() Kind         { return KindChunkAck }
func (e ChunkAck) TransferID() string { return e.ID }

// TransferConfirmation is the receiver's final verdict after reassembly
// and integrity verification. Only Success=true completes a sender session.
type TransferConfirmation struct {
	Routing
	ID      string `json:"transfer_id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (e TransferConfirmation) Kind() Kind         { return KindTransferConfirmation }
func (e TransferConfirmation) TransferID() string { return e.ID }

// StatusQuery asks the receiver for its authoritative chunk-possession set.
type StatusQuery struct {
	Routing
	ID string `json:"transfer_id"`
}

func (e StatusQuery) Kind() Kind         { return KindStatusQuery }
func (e StatusQuery) TransferID() string { return e.ID }

// StatusResponse reports the receiver's full received set and its
// complement relative to the declared total.
type StatusResponse struct {
	Routing
	ID             string `json:"transfer_id"`
	ReceivedChunks []int  `json:"received_chunks"`
	MissingChunks  []int  `json:"missing_chunks"`
	TotalReceived  int    `json:"total_received"`
}

func (e StatusResponse) Kind() Kind         { return KindStatusResponse }
func (e StatusResponse) TransferID() string { return e.ID }

// TransferCancel aborts a transfer on both sides immediately.
type TransferCancel struct {
	Routing
	ID      string `json:"transfer_id"`
	Message string `json:"message,omitempty"`
}

func (e TransferCancel) Kind() Kind         { return KindTransferCancel }
func (e TransferCancel) TransferID() string { return e.ID }
