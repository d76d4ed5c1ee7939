// internal/external/calendar.go
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"corretor-hub/internal/common/config"
	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/models"
)

// CalendarProvider is the external calendar port. Free/busy and event
// creation are tenant-scoped through the tenant's calendar ID.
type CalendarProvider interface {
	FreeBusy(ctx context.Context, tenant *models.Tenant, from, to time.Time) ([]models.TimeSlot, error)
	CreateEvent(ctx context.Context, tenant *models.Tenant, slot models.TimeSlot, summary string) (string, error)
	CancelEvent(ctx context.Context, tenant *models.Tenant, eventRef string) error
}

// HTTPCalendar calls an external calendar API.
type HTTPCalendar struct {
	cfg    config.CalendarConfig
	client *http.Client
	logger logger.Logger
}

func NewHTTPCalendar(cfg config.CalendarConfig, log logger.Logger) *HTTPCalendar {
	return &HTTPCalendar{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: log.WithFields(map[string]interface{}{"component": "calendar"}),
	}
}

// FreeBusy returns the busy intervals of the tenant's calendar inside
// the window. Callers subtract these from candidate slots.
func (c *HTTPCalendar) FreeBusy(ctx context.Context, tenant *models.Tenant, from, to time.Time) ([]models.TimeSlot, error) {
	req := map[string]interface{}{
		"calendarId": tenant.CalendarID,
		"from":       from.Format(time.RFC3339),
		"to":         to.Format(time.RFC3339),
	}
	var resp struct {
		Busy []models.TimeSlot `json:"busy"`
	}
	if err := c.post(ctx, "/v1/freebusy", req, &resp); err != nil {
		return nil, err
	}
	return resp.Busy, nil
}

func (c *HTTPCalendar) CreateEvent(ctx context.Context, tenant *models.Tenant, slot models.TimeSlot, summary string) (string, error) {
	req := map[string]interface{}{
		"calendarId": tenant.CalendarID,
		"start":      slot.Start.Format(time.RFC3339),
		"end":        slot.End.Format(time.RFC3339),
		"summary":    summary,
	}
	var resp struct {
		EventRef string `json:"eventRef"`
	}
	if err := c.post(ctx, "/v1/events", req, &resp); err != nil {
		return "", err
	}
	return resp.EventRef, nil
}

func (c *HTTPCalendar) CancelEvent(ctx context.Context, tenant *models.Tenant, eventRef string) error {
	req := map[string]interface{}{
		"calendarId": tenant.CalendarID,
		"eventRef":   eventRef,
	}
	return c.post(ctx, "/v1/events/cancel", req, nil)
}

func (c *HTTPCalendar) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return commonerrors.NewValidationError("encode calendar request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return commonerrors.NewExternalServiceError("calendar", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return commonerrors.NewExternalTimeoutError("calendar")
		}
		return commonerrors.NewExternalServiceError("calendar", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return commonerrors.NewExternalServiceError("calendar",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return commonerrors.NewExternalServiceError("calendar", err)
		}
	}
	return nil
}
