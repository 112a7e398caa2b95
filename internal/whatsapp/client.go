package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://graph.facebook.com"
	requestTimeout = 10 * time.Second

	// Cloud API limits for reply buttons.
	maxButtons     = 3
	maxButtonTitle = 20
)

// Choice is one option of an interactive prompt.
type Choice struct {
	ID    string
	Title string
}

// Client sends messages through the Graph API.
type Client struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	token         string
	http          *http.Client
}

// NewClient creates a Graph API client.
func NewClient(token, phoneNumberID, apiVersion string) *Client {
	if apiVersion == "" {
		apiVersion = "v21.0"
	}
	return &Client{
		baseURL:       defaultBaseURL,
		apiVersion:    apiVersion,
		phoneNumberID: phoneNumberID,
		token:         token,
		http:          &http.Client{Timeout: requestTimeout},
	}
}

// WithBaseURL points the client at another host, for tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.baseURL, c.apiVersion, c.phoneNumberID, path)
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	return c.postMessage(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
}

// SendChoicePrompt sends body with up to three reply buttons.
func (c *Client) SendChoicePrompt(ctx context.Context, to, body string, choices []Choice) error {
	if len(choices) == 0 || len(choices) > maxButtons {
		return fmt.Errorf("choice prompt needs 1-%d choices, got %d", maxButtons, len(choices))
	}
	buttons := make([]map[string]interface{}, 0, len(choices))
	for _, ch := range choices {
		title := ch.Title
		if r := []rune(title); len(r) > maxButtonTitle {
			title = string(r[:maxButtonTitle])
		}
		buttons = append(buttons, map[string]interface{}{
			"type":  "reply",
			"reply": map[string]string{"id": ch.ID, "title": title},
		})
	}
	return c.postMessage(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]interface{}{"buttons": buttons},
		},
	})
}

// SendImage sends a previously uploaded image.
func (c *Client) SendImage(ctx context.Context, to, mediaID, caption string) error {
	image := map[string]string{"id": mediaID}
	if caption != "" {
		image["caption"] = caption
	}
	return c.postMessage(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "image",
		"image":             image,
	})
}

// UploadMedia uploads data and returns the media id.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", fmt.Errorf("write multipart field: %w", err)
	}
	if err := w.WriteField("type", mimeType); err != nil {
		return "", fmt.Errorf("write multipart field: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s%s"`, uuid.NewString(), extensionFor(mimeType)))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write multipart file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("media"), &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload media: response has no id")
	}
	return out.ID, nil
}

func (c *Client) postMessage(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("messages"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("send %v message: %w", payload["type"], err)
	}
	return nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Only the status is logged; the body may echo message content.
		_, _ = io.Copy(io.Discard, resp.Body)
		slog.Warn("whatsapp api call failed", "status", resp.StatusCode)
		return fmt.Errorf("graph api status %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ""
	}
}
