// internal/external/classifier.go
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"corretor-hub/internal/common/config"
	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/models"
)

// ClassifyRequest carries the conversation context the classifier needs.
type ClassifyRequest struct {
	TenantID string            `json:"tenantId"`
	LeadID   string            `json:"leadId"`
	Text     string            `json:"text"`
	History  []*models.Message `json:"history,omitempty"`
}

// ClassifyResult is the classified intent plus whatever structured
// preferences the classifier could extract from the message.
type ClassifyResult struct {
	Intent      models.Intent      `json:"intent"`
	Confidence  float64            `json:"confidence"`
	Preferences models.Preferences `json:"preferences"`
	LeadName    string             `json:"leadName,omitempty"`
}

// RespondRequest asks for a conversational reply in context.
type RespondRequest struct {
	TenantID   string            `json:"tenantId"`
	LeadID     string            `json:"leadId"`
	TenantName string            `json:"tenantName"`
	History    []*models.Message `json:"history,omitempty"`
}

// Classifier is the intent classification and response generation port.
// Both calls run under the caller's deadline and may fail; the
// orchestrator owns retry and degradation policy.
type Classifier interface {
	Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResult, error)
	Respond(ctx context.Context, req *RespondRequest) (string, error)
}

// HTTPClassifier calls an external classifier API.
type HTTPClassifier struct {
	cfg    config.ClassifierConfig
	client *http.Client
	logger logger.Logger
}

func NewHTTPClassifier(cfg config.ClassifierConfig, log logger.Logger) *HTTPClassifier {
	return &HTTPClassifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: log.WithFields(map[string]interface{}{"component": "classifier"}),
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResult, error) {
	var result ClassifyResult
	if err := c.post(ctx, "/v1/classify", req, &result); err != nil {
		return nil, err
	}
	if result.Intent == "" {
		result.Intent = models.IntentOther
	}
	return &result, nil
}

func (c *HTTPClassifier) Respond(ctx context.Context, req *RespondRequest) (string, error) {
	var result struct {
		Text string `json:"text"`
	}
	if err := c.post(ctx, "/v1/respond", req, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}

func (c *HTTPClassifier) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return commonerrors.NewValidationError("encode classifier request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return commonerrors.NewExternalServiceError("classifier", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return commonerrors.NewExternalTimeoutError("classifier")
		}
		return commonerrors.NewExternalServiceError("classifier", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return commonerrors.NewExternalServiceError("classifier",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return commonerrors.NewExternalServiceError("classifier", err)
	}
	return nil
}
