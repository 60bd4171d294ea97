// Package automate pushes booked slots to the facility's reservation system.
package automate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	"go.uber.org/zap"
)

const (
	bookingPath         = "/booking/"
	defaultTimeout      = 10 * time.Second
	maxErrorBodyBytes   = 512
	contentTypeHeader   = "Content-Type"
	contentTypeJSON     = "application/json"
	logMessageSkipped   = "reservation system disabled, skipping"
	logMessageFailed    = "reservation system call failed"
	logMessageDelivered = "reservation system call succeeded"
)

var (
	// ErrMissingBaseURL is returned by New when an enabled client has no endpoint.
	ErrMissingBaseURL = errors.New("automate base url is required")
	// ErrUnexpectedStatus reports a non-2xx response.
	ErrUnexpectedStatus = errors.New("automate unexpected status")
)

// Config controls the reservation system client.
type Config struct {
	Enabled  bool
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client implements ledger.ReservationSystem over HTTP with basic auth. A
// disabled client only logs what it would have sent.
type Client struct {
	config     Config
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

var _ ledger.ReservationSystem = (*Client)(nil)

// New validates the configuration and builds a Client.
func New(config Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	client := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
	if !config.Enabled {
		return client, nil
	}
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse automate base url: %w", err)
	}
	client.baseURL = parsed
	return client, nil
}

// CreateSlot posts one reservation.
func (client *Client) CreateSlot(ctx context.Context, slot ledger.ReservationSlot) error {
	if !client.config.Enabled {
		client.logger.Info(logMessageSkipped, zap.String("action", "create"), zap.String("slot_key", slot.SlotKey), zap.String("pitch", slot.Pitch), zap.String("date", slot.Date))
		return nil
	}
	payload, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("encode reservation: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint(""), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build create request: %w", err)
	}
	request.Header.Set(contentTypeHeader, contentTypeJSON)
	return client.do(request, "create", slot.SlotKey)
}

// DeleteSlot removes one reservation by slot key.
func (client *Client) DeleteSlot(ctx context.Context, slotKey string) error {
	if !client.config.Enabled {
		client.logger.Info(logMessageSkipped, zap.String("action", "delete"), zap.String("slot_key", slotKey))
		return nil
	}
	if strings.TrimSpace(slotKey) == "" {
		return fmt.Errorf("%w: empty value", ledger.ErrInvalidSlotKey)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, client.endpoint(url.PathEscape(slotKey)), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	return client.do(request, "delete", slotKey)
}

func (client *Client) endpoint(suffix string) string {
	return client.baseURL.String() + bookingPath + suffix
}

func (client *Client) do(request *http.Request, action string, slotKey string) error {
	request.SetBasicAuth(client.config.Username, client.config.Password)
	response, err := client.httpClient.Do(request)
	if err != nil {
		client.logger.Warn(logMessageFailed, zap.String("action", action), zap.String("slot_key", slotKey), zap.Error(err))
		return fmt.Errorf("automate %s: %w", action, err)
	}
	defer response.Body.Close()
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		client.logger.Warn(logMessageFailed, zap.String("action", action), zap.String("slot_key", slotKey), zap.Int("status", response.StatusCode))
		return fmt.Errorf("%w: %s %d %s", ErrUnexpectedStatus, action, response.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	client.logger.Debug(logMessageDelivered, zap.String("action", action), zap.String("slot_key", slotKey))
	return nil
}
