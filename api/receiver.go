package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/relaySharer/pkg/concurrency"
)

// AskPayload opens a signaling exchange: the sender announces what it
// wants to transfer and carries its WebRTC offer.
type AskPayload struct {
	TransferID  string                    `json:"transfer_id"`
	FileName    string                    `json:"file_name"`
	Size        int64                     `json:"size"`
	ContentType string                    `json:"content_type,omitempty"`
	Offer       webrtc.SessionDescription `json:"offer"`
}

// Negotiator is the receiver-side machinery the API drives: the accept
// decision, the WebRTC answer, and candidate exchange.
type Negotiator interface {
	// Decide reports whether the announced transfer is welcome.
	Decide(ask AskPayload) bool
	// Answer consumes the sender's offer and returns the local answer
	// plus a stream of local ICE candidates. The stream closes when
	// gathering finishes.
	Answer(ask AskPayload) (*webrtc.SessionDescription, <-chan webrtc.ICECandidateInit, error)
	// AddRemoteCandidate feeds one of the sender's candidates into the
	// local connection.
	AddRemoteCandidate(candidate webrtc.ICECandidateInit) error
	// TransferDone closes when the negotiated transfer reaches a
	// terminal state, releasing the API for the next sender.
	TransferDone() <-chan struct{}
}

// API is the receiver's signaling endpoint. A concurrency guard admits
// one sender at a time; later senders get 503 until the active transfer
// finishes.
type API struct {
	mux        *http.ServeMux
	guard      *concurrency.ConcurrencyGuard
	negotiator Negotiator
	logger     *slog.Logger
}

func NewAPI(negotiator Negotiator, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	a := &API{
		mux:        http.NewServeMux(),
		guard:      concurrency.NewConcurrencyGuard(),
		negotiator: negotiator,
		logger:     logger,
	}
	a.registerRoutes()
	return a
}

// ServeHTTP lets API satisfy http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) registerRoutes() {
	a.mux.Handle("POST /ask", a.guarded(http.HandlerFunc(a.askHandler)))
	a.mux.Handle("POST /candidate", http.HandlerFunc(a.candidateHandler))
}

// guarded admits one signaling exchange at a time and holds the slot
// until the transfer it produced is fully done.
func (a *API) guarded(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := a.guard.Execute(func() error {
			next.ServeHTTP(w, r)
			return nil
		})
		if errors.Is(err, concurrency.ErrBusy) {
			a.logger.Info("signaling request rejected, transfer in progress")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		}
	})
}

func (a *API) askHandler(w http.ResponseWriter, r *http.Request) {
	var ask AskPayload
	if err := json.NewDecoder(r.Body).Decode(&ask); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	a.logger.Info("transfer ask received",
		"transferID", ask.TransferID, "fileName", ask.FileName, "bytes", ask.Size)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	if !a.negotiator.Decide(ask) {
		a.logger.Info("transfer declined", "transferID", ask.TransferID)
		a.sendRejection(w, flusher)
		return
	}

	answer, candidates, err := a.negotiator.Answer(ask)
	if err != nil {
		a.logger.Error("failed to produce answer", "error", err)
		a.sendRejection(w, flusher)
		return
	}
	if err := a.sendAnswer(w, flusher, answer); err != nil {
		a.logger.Error("failed to send answer", "error", err)
		return
	}
	if err := a.streamCandidates(w, flusher, candidates); err != nil {
		a.logger.Error("failed to stream candidates", "error", err)
		return
	}

	// Hold the guard until the transfer finishes or the sender goes away.
	select {
	case <-a.negotiator.TransferDone():
	case <-r.Context().Done():
	}
}

func (a *API) sendRejection(w http.ResponseWriter, flusher http.Flusher) {
	jsonResponse, _ := json.Marshal(map[string]string{"status": "rejected"})
	fmt.Fprintf(w, "event: rejection\ndata: %s\n\n", jsonResponse)
	flusher.Flush()
}

func (a *API) sendAnswer(w http.ResponseWriter, flusher http.Flusher, answer *webrtc.SessionDescription) error {
	jsonResponse, err := json.Marshal(map[string]webrtc.SessionDescription{"answer": *answer})
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	fmt.Fprintf(w, "event: answer\ndata: %s\n\n", jsonResponse)
	flusher.Flush()
	return nil
}

func (a *API) streamCandidates(w http.ResponseWriter, flusher http.Flusher, candidates <-chan webrtc.ICECandidateInit) error {
	for candidate := range candidates {
		jsonResponse, err := json.Marshal(map[string]webrtc.ICECandidateInit{"candidate": candidate})
		if err != nil {
			a.logger.Error("failed to marshal candidate, skipping", "error", err)
			continue
		}
		fmt.Fprintf(w, "event: candidate\ndata: %s\n\n", jsonResponse)
		flusher.Flush()
	}

	fmt.Fprintf(w, "event: candidates_done\ndata: {}\n\n")
	flusher.Flush()
	return nil
}

func (a *API) candidateHandler(w http.ResponseWriter, r *http.Request) {
	var candidate webrtc.ICECandidateInit
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		http.Error(w, "Invalid candidate payload", http.StatusBadRequest)
		return
	}
	if err := a.negotiator.AddRemoteCandidate(candidate); err != nil {
		a.logger.Warn("failed to add remote candidate", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}
