// Package gemini adapts the Google Gen AI SDK to the bot's upstream interfaces.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/uhwio/whatsappaibot/internal/domain"
	"github.com/uhwio/whatsappaibot/internal/upstream"
	"google.golang.org/genai"
)

// SystemInstruction frames every chat and summary call.
const SystemInstruction = "You are a helpful WhatsApp assistant. " +
	"You may be given a short background summary of earlier conversation; it must NOT be quoted verbatim. " +
	"Do not reveal private data. Keep responses concise unless asked otherwise."

// Client calls Gemini for text and Imagen for images.
type Client struct {
	client     *genai.Client
	model      string
	imageModel string
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey, model, imageModel string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{client: client, model: model, imageModel: imageModel}, nil
}

// Converse implements upstream.Converser. The last turn is the new message.
func (c *Client) Converse(ctx context.Context, turns []domain.Turn) (string, error) {
	contents := Contents(turns)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemInstruction, genai.RoleUser),
	}

	res, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", statusError(err))
	}
	return res.Text(), nil
}

// GenerateImage returns the bytes and MIME type of one generated image.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	if c.imageModel == "" {
		return nil, "", fmt.Errorf("no image model configured")
	}
	res, err := c.client.Models.GenerateImages(ctx, c.imageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, "", fmt.Errorf("gemini generate image: %w", statusError(err))
	}
	for _, img := range res.GeneratedImages {
		if img != nil && img.Image != nil && len(img.Image.ImageBytes) > 0 {
			return img.Image.ImageBytes, img.Image.MIMEType, nil
		}
	}
	return nil, "", fmt.Errorf("gemini generate image: no image returned")
}

// Contents maps turns to genai contents.
func Contents(turns []domain.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	return contents
}

// statusError lifts the SDK's API error into an upstream.StatusError so the
// retry policy can classify it by code.
func statusError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &upstream.StatusError{Code: apiErr.Code, Status: apiErr.Status, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &upstream.StatusError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Err: err}
	}
	return err
}

var _ upstream.Converser = (*Client)(nil)
