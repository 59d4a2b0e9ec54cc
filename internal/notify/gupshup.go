package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sender delivers WhatsApp messages. Delivery is fire-and-forget from the
// caller's point of view; errors are for the audit log only.
type Sender interface {
	SendText(ctx context.Context, phone, message string) error
	SendTemplate(ctx context.Context, phone, templateID string, params []string) error
}

type GupshupClient struct {
	APIKey  string
	AppName string
	Source  string
	BaseURL string
	HTTP    *http.Client
}

func NewGupshupClient(apiKey, appName, source, baseURL string, timeout time.Duration) *GupshupClient {
	return &GupshupClient{
		APIKey:  apiKey,
		AppName: appName,
		Source:  source,
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *GupshupClient) SendText(ctx context.Context, phone, message string) error {
	form := url.Values{
		"channel":     {"whatsapp"},
		"source":      {c.Source},
		"destination": {NormalizePhone(phone)},
		"message":     {message},
		"src.name":    {c.AppName},
	}
	return c.post(ctx, "/msg", form)
}

func (c *GupshupClient) SendTemplate(ctx context.Context, phone, templateID string, params []string) error {
	tpl, err := json.Marshal(struct {
		ID     string   `json:"id"`
		Params []string `json:"params"`
	}{templateID, params})
	if err != nil {
		return err
	}
	form := url.Values{
		"channel":     {"whatsapp"},
		"source":      {c.Source},
		"destination": {NormalizePhone(phone)},
		"template":    {string(tpl)},
		"src.name":    {c.AppName},
	}
	return c.post(ctx, "/template/msg", form)
}

func (c *GupshupClient) post(ctx context.Context, path string, form url.Values) error {
	if c.APIKey == "" {
		return fmt.Errorf("gupshup api key not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("gupshup %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("gupshup %s: status %d: %s", path, resp.StatusCode, msg)
	}
	return nil
}
