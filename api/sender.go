package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

const peerIDHeader = "X-Peer-ID"

// peerIDInjector stamps every outgoing request with the local peer's
// identity.
type peerIDInjector struct {
	peerID string
	next   http.RoundTripper
}

func (t *peerIDInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set(peerIDHeader, t.peerID)
	return t.next.RoundTrip(req)
}

// Client is a stateless HTTP client for the receiver's signaling API.
type Client struct {
	HttpClient  *http.Client
	receiverURL string
}

func NewClient(peerID string) *Client {
	transport := &peerIDInjector{
		peerID: peerID,
		next:   http.DefaultTransport,
	}
	return &Client{
		HttpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (c *Client) SetReceiverURL(receiverURL string) {
	c.receiverURL = receiverURL
}

// SendICECandidateRequest ships one local candidate to the receiver.
func (c *Client) SendICECandidateRequest(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	if c.receiverURL == "" {
		return fmt.Errorf("receiver URL is not set")
	}

	jsonData, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.receiverURL+"/candidate", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create candidate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send candidate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("candidate endpoint responded with %s", resp.Status)
	}
	return nil
}
