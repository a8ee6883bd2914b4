// Package notify sends the email that announces a new logbook entry.
// Delivery is best effort: callers log the outcome and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
)

const DefaultTimeout = 10 * time.Second

// Message is the JSON body accepted by the email endpoint.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type Client struct {
	endpoint string
	apiKey   string
	from     string
	http     *http.Client
}

func New(endpoint, apiKey, from string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
}

// EntryCreated builds the announcement of e for the given recipients.
func (c *Client) EntryCreated(e models.Entry, to []string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Nueva entrada en la bitácora: folio %s</h2>", html.EscapeString(e.Folio))
	fmt.Fprintf(&b, "<p><strong>%s</strong></p>", html.EscapeString(e.Title))
	fmt.Fprintf(&b, "<p>Fecha: %s</p>", html.EscapeString(e.Date.String()))
	if e.Category != "" {
		fmt.Fprintf(&b, "<p>Tipo: %s</p>", html.EscapeString(e.Category))
	}
	if e.Location != "" {
		fmt.Fprintf(&b, "<p>Ubicación: %s</p>", html.EscapeString(e.Location))
	}
	if e.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(e.Description))
	}
	return Message{
		From:    c.from,
		To:      to,
		Subject: fmt.Sprintf("Bitácora %s: %s", e.Folio, e.Title),
		HTML:    b.String(),
	}
}

// Send posts m to the endpoint with the API key as a bearer token.
func (c *Client) Send(ctx context.Context, m Message) error {
	if len(m.To) == 0 {
		return nil
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return common.Connectivity(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &common.RemoteError{Op: "email", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}
	return nil
}

// NotifyEntryCreated sends the announcement of e to every recipient.
func (c *Client) NotifyEntryCreated(ctx context.Context, e models.Entry, to []string) error {
	return c.Send(ctx, c.EntryCreated(e, to))
}
