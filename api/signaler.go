package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ErrRejected means the receiver declined the announced transfer during
// signaling, before any chunk moved.
var ErrRejected = errors.New("transfer rejected by the receiver")

// APISignaler is the sender-side signaling client. It posts the offer to
// the receiver's /ask endpoint and consumes the SSE stream carrying the
// answer and the receiver's ICE candidates.
type APISignaler struct {
	apiClient           *Client
	ctx                 context.Context
	ask                 AskPayload
	addIceCandidateFunc func(webrtc.ICECandidateInit) error
	answerChan          chan *webrtc.SessionDescription
	errChan             chan error
	logger              *slog.Logger
}

// NewAPISignaler creates a signaler for one transfer. The ask payload
// carries the transfer metadata; the callback feeds remote candidates
// into the sender's peer connection.
func NewAPISignaler(
	ctx context.Context,
	apiClient *Client,
	ask AskPayload,
	addIceCandidateFunc func(webrtc.ICECandidateInit) error,
	logger *slog.Logger,
) *APISignaler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APISignaler{
		apiClient:           apiClient,
		ctx:                 ctx,
		ask:                 ask,
		addIceCandidateFunc: addIceCandidateFunc,
		answerChan:          make(chan *webrtc.SessionDescription, 1),
		errChan:             make(chan error, 1),
		logger:              logger,
	}
}

// SendOffer posts the offer and starts consuming the SSE response. This
// is the entry point that triggers the whole signaling exchange.
func (s *APISignaler) SendOffer(offer webrtc.SessionDescription) error {
	url := s.apiClient.receiverURL + "/ask"

	payload := s.ask
	payload.Offer = offer
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal offer payload: %w", err)
	}

	req, err := http.NewRequestWithContext(s.ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create /ask request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.apiClient.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to /ask endpoint: %w", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		resp.Body.Close()
		return fmt.Errorf("receiver is busy with another transfer")
	}

	// The body stays open: a goroutine consumes the event stream.
	go s.listenToSSEResponse(resp)
	return nil
}

func (s *APISignaler) listenToSSEResponse(resp *http.Response) {
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	var currentEvent string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			s.routeEvent(currentEvent, data)
		}
	}

	if err := scanner.Err(); err != nil {
		s.errChan <- fmt.Errorf("error reading SSE stream: %w", err)
	}
}

func (s *APISignaler) routeEvent(event, data string) {
	switch event {
	case "answer":
		s.handleAnswerEvent(data)
	case "candidate":
		s.handleCandidateEvent(data)
	case "rejection":
		s.errChan <- ErrRejected
	case "candidates_done":
		s.logger.Debug("receiver finished sending candidates")
	default:
		s.logger.Warn("unknown SSE event", "event", event)
	}
}

func (s *APISignaler) handleAnswerEvent(data string) {
	var respData struct {
		Answer webrtc.SessionDescription `json:"answer"`
	}
	if err := json.Unmarshal([]byte(data), &respData); err != nil {
		s.errChan <- fmt.Errorf("failed to unmarshal answer event: %w", err)
		return
	}
	s.answerChan <- &respData.Answer
}

func (s *APISignaler) handleCandidateEvent(data string) {
	var respData struct {
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	if err := json.Unmarshal([]byte(data), &respData); err != nil {
		// One bad candidate should not kill the exchange.
		s.logger.Error("failed to unmarshal candidate event", "error", err)
		return
	}
	if err := s.addIceCandidateFunc(respData.Candidate); err != nil {
		s.logger.Warn("failed to add ICE candidate", "error", err)
	}
}

// WaitForAnswer blocks until the answer arrives, the receiver rejects,
// or the context ends.
func (s *APISignaler) WaitForAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	select {
	case answer := <-s.answerChan:
		return answer, nil
	case err := <-s.errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendICECandidate ships a local candidate to the receiver, fire and
// forget.
func (s *APISignaler) SendICECandidate(candidate webrtc.ICECandidateInit) {
	go func() {
		if err := s.apiClient.SendICECandidateRequest(context.Background(), candidate); err != nil {
			s.logger.Warn("failed to send ICE candidate", "error", err)
		}
	}()
}
