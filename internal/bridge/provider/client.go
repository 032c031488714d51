// Package provider talks to the WhatsApp Cloud API calling surface: the
// REST client for outbound call actions and the webhook receiver for
// inbound call lifecycle events.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sebas/callbridge/internal/bridge/metrics"
)

// Call actions accepted by the provider's calls endpoint.
const (
	ActionConnect   = "connect"
	ActionPreAccept = "pre_accept"
	ActionAccept    = "accept"
	ActionReject    = "reject"
	ActionTerminate = "terminate"
)

// Result is the normalized outcome of a provider call action. Operations
// never return Go errors to callers; every failure mode collapses into
// Success=false with a message.
type Result struct {
	Success bool
	CallID  string
	Err     string
}

// SessionDescription is the SDP payload carried on connect and answer
// actions.
type SessionDescription struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

// ClientConfig holds provider client settings.
type ClientConfig struct {
	BaseURL       string // e.g. "https://graph.facebook.com"
	Version       string // e.g. "v21.0"
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration // per-request timeout, default 10s
}

// Client performs outbound call actions against the provider's calls
// endpoint with bearer auth.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a provider call client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// callRequest is the JSON body for every call action.
type callRequest struct {
	MessagingProduct string              `json:"messaging_product"`
	To               string              `json:"to,omitempty"`
	CallID           string              `json:"call_id,omitempty"`
	Action           string              `json:"action"`
	Session          *SessionDescription `json:"session,omitempty"`
}

// callResponse is the subset of the provider response the bridge
// interprets. The boolean success field is the sole success signal.
type callResponse struct {
	Success bool `json:"success"`
	Calls   []struct {
		ID string `json:"id"`
	} `json:"calls"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// InitiateCall starts an outbound call to phoneNumber with the given SDP
// offer. On success the provider-issued call id is returned; when the
// provider omits one a locally generated identifier is substituted so
// later webhook correlation has something to key on.
func (c *Client) InitiateCall(ctx context.Context, phoneNumber, sdp string) Result {
	res := c.post(ctx, callRequest{
		MessagingProduct: "whatsapp",
		To:               phoneNumber,
		Action:           ActionConnect,
		Session: &SessionDescription{
			SDPType: "offer",
			SDP:     sdp,
		},
	})
	if res.Success && res.CallID == "" {
		res.CallID = "outgoing_" + strconv.FormatInt(time.Now().UnixMilli(), 10)
		slog.Warn("[Provider] Initiate response carried no call id, using generated id",
			"call_id", res.CallID,
		)
	}
	return res
}

// Answer sends the SDP answer for callID with the given action, which
// must be ActionPreAccept or ActionAccept.
func (c *Client) Answer(ctx context.Context, callID, sdp, action string) Result {
	return c.post(ctx, callRequest{
		MessagingProduct: "whatsapp",
		CallID:           callID,
		Action:           action,
		Session: &SessionDescription{
			SDPType: "answer",
			SDP:     sdp,
		},
	})
}

// Reject declines the call identified by callID.
func (c *Client) Reject(ctx context.Context, callID string) Result {
	return c.post(ctx, callRequest{
		MessagingProduct: "whatsapp",
		CallID:           callID,
		Action:           ActionReject,
	})
}

// Terminate hangs up the call identified by callID.
func (c *Client) Terminate(ctx context.Context, callID string) Result {
	return c.post(ctx, callRequest{
		MessagingProduct: "whatsapp",
		CallID:           callID,
		Action:           ActionTerminate,
	})
}

func (c *Client) post(ctx context.Context, reqBody callRequest) Result {
	result := c.doPost(ctx, reqBody)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.ProviderRequests.WithLabelValues(reqBody.Action, outcome).Inc()

	if !result.Success {
		slog.Error("[Provider] Call action failed",
			"action", reqBody.Action,
			"call_id", reqBody.CallID,
			"error", result.Err,
		)
	} else {
		slog.Info("[Provider] Call action succeeded",
			"action", reqBody.Action,
			"call_id", result.CallID,
		)
	}
	return result
}

func (c *Client) doPost(ctx context.Context, reqBody callRequest) Result {
	if c.cfg.AccessToken == "" || c.cfg.PhoneNumberID == "" {
		return Result{Err: "provider credentials not configured"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{Err: fmt.Sprintf("encode request: %v", err)}
	}

	url := fmt.Sprintf("%s/%s/%s/calls", c.cfg.BaseURL, c.cfg.Version, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Err: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Err: fmt.Sprintf("read response: %v", err)}
	}

	var decoded callResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Result{Err: fmt.Sprintf("unexpected response (status %d): %s", resp.StatusCode, truncate(data, 256))}
	}

	if !decoded.Success {
		msg := fmt.Sprintf("provider reported failure (status %d)", resp.StatusCode)
		if decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return Result{Err: msg}
	}

	result := Result{Success: true, CallID: reqBody.CallID}
	if len(decoded.Calls) > 0 && decoded.Calls[0].ID != "" {
		result.CallID = decoded.Calls[0].ID
	}
	return result
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
