// Package openai reads receipts with an OpenAI vision model
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Config holds OpenAI client settings
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ReceiptExtractor implements port.ReceiptExtractor using GPT vision
type ReceiptExtractor struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// extractedReceipt mirrors the JSON the model is asked to return
type extractedReceipt struct {
	MerchantName string              `json:"merchant_name"`
	TotalAmount  *decimal.Decimal    `json:"total_amount"`
	Date         string              `json:"date"`
	Currency     string              `json:"currency"`
	LineItems    []extractedLineItem `json:"line_items"`
}

type extractedLineItem struct {
	Description string           `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	Quantity    int              `json:"quantity"`
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006/01/02", "02.01.2006"}

// NewReceiptExtractor creates a receipt extractor. prompts may be nil to use
// the built-in prompts.
func NewReceiptExtractor(cfg Config, prompts *PromptConfig, logger *zap.Logger) *ReceiptExtractor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &ReceiptExtractor{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		prompts: prompts,
		logger:  logger,
	}
}

// Extract reads a JPEG, PNG or PDF receipt. Only the first PDF page is read.
// Unreadable input, model and parse failures yield an empty result rather
// than an error.
func (x *ReceiptExtractor) Extract(ctx context.Context, content []byte, mimeType string) (*entity.ReceiptData, error) {
	image, imageType, err := x.prepareImage(content, mimeType)
	if err != nil {
		x.logger.Warn("Receipt not readable", zap.String("mime_type", mimeType), zap.Error(err))
		return &entity.ReceiptData{}, nil
	}

	prompt, err := renderTemplate(x.prompts.ReceiptExtraction.UserTemplate, struct{ Hint string }{})
	if err != nil {
		return nil, err
	}

	resp, err := x.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       x.model,
		MaxTokens:   x.prompts.ReceiptExtraction.MaxTokens,
		Temperature: x.prompts.ReceiptExtraction.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: x.prompts.ReceiptExtraction.System,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:%s;base64,%s", imageType, base64.StdEncoding.EncodeToString(image)),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		x.logger.Error("Vision API call failed", zap.Error(err))
		return &entity.ReceiptData{}, nil
	}
	if len(resp.Choices) == 0 {
		x.logger.Warn("Vision API returned no choices")
		return &entity.ReceiptData{}, nil
	}

	reply := resp.Choices[0].Message.Content
	var raw extractedReceipt
	if err := json.Unmarshal([]byte(extractJSON(reply)), &raw); err != nil {
		x.logger.Error("Failed to parse Vision API response",
			zap.Error(err),
			zap.String("content", reply))
		return &entity.ReceiptData{}, nil
	}

	data := raw.toReceiptData()
	x.logger.Info("Receipt data extracted",
		zap.String("merchant", data.MerchantName),
		zap.Int("line_items", len(data.LineItems)))
	return data, nil
}

// prepareImage returns image bytes and their MIME type, rendering PDFs first
func (x *ReceiptExtractor) prepareImage(content []byte, mimeType string) ([]byte, string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return content, "image/jpeg", nil
	case "image/png", "image/webp", "image/gif":
		return content, mimeType, nil
	case "application/pdf":
		page, err := firstPageJPEG(content)
		if err != nil {
			return nil, "", fmt.Errorf("render PDF receipt: %w", err)
		}
		return page, "image/jpeg", nil
	}
	return nil, "", fmt.Errorf("unsupported receipt type %q", mimeType)
}

// firstPageJPEG renders page one of a PDF with mupdf
func firstPageJPEG(pdf []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *extractedReceipt) toReceiptData() *entity.ReceiptData {
	data := &entity.ReceiptData{
		MerchantName: strings.TrimSpace(r.MerchantName),
		Currency:     strings.ToUpper(strings.TrimSpace(r.Currency)),
	}
	if r.TotalAmount != nil && r.TotalAmount.IsPositive() {
		amount := *r.TotalAmount
		data.TotalAmount = &amount
	}
	if date, ok := parseDate(r.Date); ok {
		data.Date = &date
	}
	for _, item := range r.LineItems {
		line := entity.ReceiptLineItem{Description: strings.TrimSpace(item.Description), Quantity: item.Quantity}
		if item.Amount != nil {
			line.Amount = *item.Amount
		}
		if line.Quantity <= 0 {
			line.Quantity = 1
		}
		data.LineItems = append(data.LineItems, line)
	}
	return data
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// extractJSON trims markdown fences or prose around a JSON object
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return content
	}
	return content[start : end+1]
}

var _ port.ReceiptExtractor = (*ReceiptExtractor)(nil)
