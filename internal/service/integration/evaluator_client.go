package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
)

// Evaluator turns an evaluation packet into feedback text.
type Evaluator interface {
	Evaluate(ctx context.Context, packet *models.EvaluationPacket) (string, error)
}

type EvaluatorConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

type evaluatorResponse struct {
	Feedback string `json:"feedback"`
	Comment  string `json:"comment"`
	Error    string `json:"error,omitempty"`
}

type evaluatorClient struct {
	url        string
	token      string
	retryCount int
	retryDelay time.Duration
	client     *http.Client
	logger     zerolog.Logger
}

func NewEvaluatorClient(cfg EvaluatorConfig, logger zerolog.Logger) Evaluator {
	return &evaluatorClient{
		url:        cfg.URL,
		token:      cfg.Token,
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (c *evaluatorClient) Evaluate(ctx context.Context, packet *models.EvaluationPacket) (string, error) {
	body, err := json.Marshal(packet)
	if err != nil {
		return "", fmt.Errorf("failed to marshal evaluation packet: %w", err)
	}

	var lastErr error
	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			c.logger.Warn().Int("attempt", i).Msg("Retrying evaluator request")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(i)):
			}
		}

		feedback, err := c.evaluateOnce(ctx, body)
		if err == nil {
			return feedback, nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("evaluator failed after %d attempts: %w", c.retryCount+1, lastErr)
}

func (c *evaluatorClient) evaluateOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read evaluator response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", newHTTPStatusError(req, resp.StatusCode, content)
	}

	var result evaluatorResponse
	if err := json.Unmarshal(content, &result); err != nil {
		return "", fmt.Errorf("failed to decode evaluator response: %w", err)
	}

	feedback := result.Feedback
	if feedback == "" {
		feedback = result.Comment
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		if result.Error != "" {
			return "", fmt.Errorf("evaluator returned error: %s", result.Error)
		}
		return "", fmt.Errorf("evaluator returned empty feedback")
	}

	c.logger.Debug().
		Dur("duration", time.Since(start)).
		Int("feedback_length", len(feedback)).
		Msg("Evaluator responded")

	return feedback, nil
}
