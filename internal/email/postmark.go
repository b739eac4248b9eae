// Package email sends transactional mail through Postmark.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      postmarkURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// SendShareInvite tells someone without an account that a store list was
// shared with them. The share becomes active when they sign up with toEmail.
func (c *Client) SendShareInvite(ctx context.Context, toEmail, storeName, inviterEmail string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	inviter := inviterEmail
	if inviter == "" {
		inviter = "Someone"
	}
	subject := fmt.Sprintf("%s shared the %s shopping list with you", inviter, storeName)
	textBody := fmt.Sprintf(
		"%s shared the %q shopping list with you.\n\nSign up with this email address to start using it:\n\n%s\n",
		inviter, storeName, c.baseURL,
	)
	htmlBody := fmt.Sprintf(
		`<p>%s shared the <strong>%s</strong> shopping list with you.</p><p>Sign up with this email address to start using it:</p><p><a href="%s">%s</a></p>`,
		html.EscapeString(inviter), html.EscapeString(storeName), html.EscapeString(c.baseURL), html.EscapeString(c.baseURL),
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "share-invite",
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
