package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps the messaging provider's call-control and messaging REST API.
// All calls authenticate with a bearer credential scoped to a business phone
// number; resolution of which credential to use belongs to the caller (see
// Credentials).

const defaultTimeout = 10 * time.Second

var (
	// ErrRejected means the provider refused to initiate an outbound call.
	ErrRejected = errors.New("provider rejected call")

	// ErrAcceptRejected means the provider refused the accept action. This is
	// terminal for the answer operation.
	ErrAcceptRejected = errors.New("provider rejected accept")

	// ErrTemplateRejected means a template send was refused.
	ErrTemplateRejected = errors.New("provider rejected template")
)

// Credentials scope a request to one business phone number.
type Credentials struct {
	PhoneNumberID string
	AccessToken   string
}

type Config struct {
	// BaseURL is the provider graph endpoint, e.g. https://graph.facebook.com/v18.0.
	BaseURL string
}

type Client struct {
	http *resty.Client
}

func NewClient(cfg Config) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: httpClient}
}

type sdpSession struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

type callRequest struct {
	MessagingProduct string      `json:"messaging_product,omitempty"`
	CallID           string      `json:"call_id,omitempty"`
	Action           string      `json:"action,omitempty"`
	To               string      `json:"to,omitempty"`
	Type             string      `json:"type,omitempty"`
	Session          *sdpSession `json:"session,omitempty"`
}

type initiateResponse struct {
	ID string `json:"id"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (e apiError) message() string {
	if e.Error.Message == "" {
		return "unknown error"
	}
	return e.Error.Message
}

// InitiateCall places an outbound voice call and returns the provider call id.
func (c *Client) InitiateCall(ctx context.Context, cred Credentials, toNumber string) (string, error) {
	var out initiateResponse
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		SetBody(callRequest{To: toNumber, Type: "voice"}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/" + cred.PhoneNumberID + "/calls")
	if err != nil {
		return "", fmt.Errorf("initiate call: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: %s", ErrRejected, apiErr.message())
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: response missing call id", ErrRejected)
	}
	return out.ID, nil
}

// PreAccept signals the provider to start media setup before the full accept.
// It is a latency optimization only; callers log failures and continue.
func (c *Client) PreAccept(ctx context.Context, cred Credentials, callID, answerSDP string) error {
	return c.callAction(ctx, cred, callRequest{
		MessagingProduct: "whatsapp",
		CallID:           callID,
		Action:           "pre_accept",
		Session:          &sdpSession{SDPType: "answer", SDP: answerSDP},
	}, ErrAcceptRejected)
}

// Accept connects the call using the negotiated answer SDP.
func (c *Client) Accept(ctx context.Context, cred Credentials, callID, answerSDP string) error {
	return c.callAction(ctx, cred, callRequest{
		MessagingProduct: "whatsapp",
		CallID:           callID,
		Action:           "accept",
		Session:          &sdpSession{SDPType: "answer", SDP: answerSDP},
	}, ErrAcceptRejected)
}

// Terminate ends the call. Best-effort from the caller's point of view: the
// error is returned for logging only.
func (c *Client) Terminate(ctx context.Context, cred Credentials, callID string) error {
	return c.callAction(ctx, cred, callRequest{
		MessagingProduct: "whatsapp",
		CallID:           callID,
		Action:           "terminate",
	}, ErrRejected)
}

func (c *Client) callAction(ctx context.Context, cred Credentials, body callRequest, kind error) error {
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		SetBody(body).
		SetError(&apiErr).
		Post("/" + cred.PhoneNumberID + "/calls")
	if err != nil {
		return fmt.Errorf("call action %s: %w", body.Action, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s (action %s)", kind, apiErr.message(), body.Action)
	}
	return nil
}

type templateRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         template `json:"template"`
}

type template struct {
	Name       string           `json:"name"`
	Language   templateLanguage `json:"language"`
	Components []map[string]any `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

// SendTemplate sends a pre-approved template message. Used for call
// permission requests, which must go out as an approved template.
func (c *Client) SendTemplate(ctx context.Context, cred Credentials, toNumber, templateName string, components []map[string]any) error {
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		SetBody(templateRequest{
			MessagingProduct: "whatsapp",
			To:               toNumber,
			Type:             "template",
			Template: template{
				Name:       templateName,
				Language:   templateLanguage{Code: "en"},
				Components: components,
			},
		}).
		SetError(&apiErr).
		Post("/" + cred.PhoneNumberID + "/messages")
	if err != nil {
		return fmt.Errorf("send template: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s", ErrTemplateRejected, apiErr.message())
	}
	return nil
}
