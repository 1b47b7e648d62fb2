package erp

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

	"ibms-backend/internal/pkg/metrics"
)

// ErrNotConfigured is returned when base URL or API credentials are missing.
var ErrNotConfigured = errors.New("ERPNext connection is not configured")

// Config holds the ERPNext connection settings.
type Config struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	Company       string
	FiscalYear    string
	BudgetAgainst string
	Timeout       time.Duration
}

// Error is a failed ERPNext call. StatusCode is 0 for transport failures.
type Error struct {
	Message    string
	StatusCode int
	Payload    map[string]interface{}
}

func (e *Error) Error() string {
	return e.Message
}

// Client calls the ERPNext REST API with token authentication.
type Client struct {
	cfg  Config
	HTTP *http.Client
}

// NewClient validates the connection settings.
func NewClient(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{cfg: cfg, HTTP: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.cfg.APIKey, c.cfg.APISecret))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.ERPRequests.WithLabelValues(method, "transport_error").Inc()
		return nil, &Error{
			Message: fmt.Sprintf("ERPNext request failed: %T", unwrapURLError(err)),
			Payload: map[string]interface{}{"detail": err.Error()},
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ERPRequests.WithLabelValues(method, "transport_error").Inc()
		return nil, &Error{Message: "ERPNext response could not be read", StatusCode: resp.StatusCode,
			Payload: map[string]interface{}{"detail": err.Error()}}
	}
	payload := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			payload = map[string]interface{}{"raw": string(raw)}
		}
	}

	if resp.StatusCode >= 400 {
		metrics.ERPRequests.WithLabelValues(method, "http_error").Inc()
		msg := "ERPNext request failed"
		for _, k := range []string{"message", "exc"} {
			if s, ok := payload[k].(string); ok && s != "" {
				msg = s
				break
			}
		}
		return nil, &Error{Message: msg, StatusCode: resp.StatusCode, Payload: payload}
	}
	metrics.ERPRequests.WithLabelValues(method, "ok").Inc()
	return payload, nil
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

func resourcePath(doctype string, name ...string) string {
	p := "/api/resource/" + url.PathEscape(doctype)
	for _, n := range name {
		p += "/" + url.PathEscape(n)
	}
	return p
}

// LoggedUser returns the user the API key belongs to.
func (c *Client) LoggedUser(ctx context.Context) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodGet, "/api/method/frappe.auth.get_logged_user", nil, nil)
}

// List returns up to limit documents of doctype. Filters use the ERPNext
// [doctype, field, op, value] form.
func (c *Client) List(ctx context.Context, doctype string, filters [][]interface{}, fields []string, limit int) (map[string]interface{}, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("limit_page_length", fmt.Sprint(limit))
	if len(filters) > 0 {
		b, err := json.Marshal(filters)
		if err != nil {
			return nil, err
		}
		q.Set("filters", string(b))
	}
	if len(fields) > 0 {
		b, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		q.Set("fields", string(b))
	}
	return c.do(ctx, http.MethodGet, resourcePath(doctype), q, nil)
}

// Create inserts a document.
func (c *Client) Create(ctx context.Context, doctype string, data interface{}) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodPost, resourcePath(doctype), nil, data)
}

// Update replaces fields of the named document.
func (c *Client) Update(ctx context.Context, doctype, name string, data interface{}) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodPut, resourcePath(doctype, name), nil, data)
}
