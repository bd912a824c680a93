package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quill/internal/config"
)

// maxStops is the number of stop sequences the completions API accepts.
const maxStops = 4

// HTTPClient calls an OpenAI compatible /v1/completions endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(cfg *config.ProviderConfig, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

type completionRequest struct {
	Model            string         `json:"model"`
	Prompt           string         `json:"prompt"`
	MaxTokens        int            `json:"max_tokens"`
	Temperature      float64        `json:"temperature"`
	TopP             float64        `json:"top_p"`
	FrequencyPenalty float64        `json:"frequency_penalty"`
	PresencePenalty  float64        `json:"presence_penalty"`
	Stop             []string       `json:"stop,omitempty"`
	LogitBias        map[string]int `json:"logit_bias,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *HTTPClient) Generate(ctx context.Context, req Request) (*Response, error) {
	body := completionRequest{
		Model:            req.Model,
		Prompt:           req.Prompt,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
	}
	if len(body.Stop) > maxStops {
		body.Stop = body.Stop[:maxStops]
	}
	if len(req.LogitBias) > 0 {
		body.LogitBias = make(map[string]int, len(req.LogitBias))
		for id, weight := range req.LogitBias {
			body.LogitBias[strconv.Itoa(id)] = weight
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("Completion call finished",
		zap.String("engine", req.Model),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	out := &Response{StatusCode: resp.StatusCode, Raw: raw}

	var decoded completionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if out.OK() {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		out.Message = strings.TrimSpace(string(raw))
		return out, nil
	}

	if decoded.Error != nil {
		out.Message = decoded.Error.Message
	}
	if !out.OK() {
		if out.Message == "" {
			out.Message = http.StatusText(resp.StatusCode)
		}
		return out, nil
	}
	if len(decoded.Choices) == 0 {
		out.StatusCode = http.StatusBadGateway
		out.Message = "provider returned no choices"
		return out, nil
	}

	out.Text = decoded.Choices[0].Text
	out.FinishReason = decoded.Choices[0].FinishReason
	return out, nil
}
