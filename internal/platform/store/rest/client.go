// Package rest binds store.Store to a PostgREST-compatible HTTP API, the
// interface exposed by hosted data services such as Supabase.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

const defaultPathPrefix = "/rest/v1"

// Config configures the HTTP binding.
type Config struct {
	BaseURL    string
	APIKey     string
	PathPrefix string
	Timeout    time.Duration
	Retries    int
}

// apiError is the PostgREST error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// Client is a store.Store over HTTP. Timeouts and retries are owned here;
// callers above the store never retry.
type Client struct {
	http   *resty.Client
	apiKey string
	prefix string
	logger zerolog.Logger
}

// New creates a client for the service at cfg.BaseURL.
func New(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = defaultPathPrefix
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		hc.SetHeader("apikey", cfg.APIKey)
	}

	return &Client{
		http:   hc,
		apiKey: cfg.APIKey,
		prefix: "/" + strings.Trim(prefix, "/"),
		logger: logger.With().Str("component", "store.rest").Logger(),
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx).SetError(&apiError{})
	if tok := store.AccessTokenFromContext(ctx); tok != "" {
		r.SetAuthToken(tok)
	} else if c.apiKey != "" {
		r.SetAuthToken(c.apiKey)
	}
	return r
}

func (c *Client) path(relation string) (string, error) {
	if !store.ValidIdent(relation) {
		return "", fmt.Errorf("invalid relation %q", relation)
	}
	return c.prefix + "/" + relation, nil
}

func (c *Client) List(ctx context.Context, relation string, q store.Query) ([]json.RawMessage, error) {
	p, err := c.path(relation)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	req := c.request(ctx).
		SetQueryParam("select", SelectParam(q)).
		SetResult(&rows)
	if q.OrderBy != nil {
		req.SetQueryParam("order", OrderParam(*q.OrderBy))
	}

	resp, err := req.Get(p)
	if err := c.check(resp, err, "list", relation); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, relation string, v store.Values) error {
	p, err := c.path(relation)
	if err != nil {
		return err
	}
	resp, err := c.request(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(v).
		Post(p)
	return c.check(resp, err, "insert", relation)
}

func (c *Client) Update(ctx context.Context, relation, id string, v store.Values) error {
	p, err := c.path(relation)
	if err != nil {
		return err
	}
	var rows []json.RawMessage
	resp, err := c.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("id", "eq."+id).
		SetBody(v).
		SetResult(&rows).
		Patch(p)
	if err := c.check(resp, err, "update", relation); err != nil {
		return err
	}
	if len(rows) == 0 {
		return missing(relation, id)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, relation, id string) error {
	p, err := c.path(relation)
	if err != nil {
		return err
	}
	var rows []json.RawMessage
	resp, err := c.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("id", "eq."+id).
		SetResult(&rows).
		Delete(p)
	if err := c.check(resp, err, "delete", relation); err != nil {
		return err
	}
	if len(rows) == 0 {
		return missing(relation, id)
	}
	return nil
}

func (c *Client) Count(ctx context.Context, relation string) (int, error) {
	p, err := c.path(relation)
	if err != nil {
		return 0, err
	}
	resp, err := c.request(ctx).
		SetHeader("Prefer", "count=exact").
		SetQueryParam("select", "id").
		Head(p)
	if err := c.check(resp, err, "count", relation); err != nil {
		return 0, err
	}
	return ParseContentRange(resp.Header().Get("Content-Range"))
}

func (c *Client) check(resp *resty.Response, err error, op, relation string) error {
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Str("relation", relation).Msg("store request failed")
		return &store.Error{
			Status:  http.StatusServiceUnavailable,
			Message: err.Error(),
			Kind:    store.ErrUnavailable,
		}
	}
	if !resp.IsError() {
		return nil
	}

	se := &store.Error{Status: resp.StatusCode()}
	if body, ok := resp.Error().(*apiError); ok && body != nil {
		se.Code = body.Code
		se.Message = body.Message
		se.Details = body.Details
		se.Hint = body.Hint
	}
	se.Kind = store.KindForCode(se.Code)
	if se.Kind == nil {
		se.Kind = store.KindForStatus(se.Status)
	}

	c.logger.Warn().
		Str("op", op).
		Str("relation", relation).
		Int("status", se.Status).
		Str("code", se.Code).
		Str("message", se.Message).
		Msg("store rejected request")
	return se
}

func missing(relation, id string) error {
	return &store.Error{
		Status:  http.StatusNotFound,
		Code:    "PGRST116",
		Message: fmt.Sprintf("no %s row with id %s", relation, id),
		Kind:    store.ErrNotFound,
	}
}

// SelectParam renders q as a PostgREST select list, e.g. "*,patients(name)".
func SelectParam(q store.Query) string {
	parts := []string{"*"}
	if len(q.Columns) > 0 {
		parts = append([]string{}, q.Columns...)
	}
	for _, j := range q.Joins {
		cols := "*"
		if len(j.Columns) > 0 {
			cols = strings.Join(j.Columns, ",")
		}
		parts = append(parts, fmt.Sprintf("%s(%s)", j.Relation, cols))
	}
	return strings.Join(parts, ",")
}

// OrderParam renders o as a PostgREST order value, e.g. "created_at.desc".
func OrderParam(o store.Order) string {
	if o.Descending {
		return o.Column + ".desc"
	}
	return o.Column + ".asc"
}

// ParseContentRange extracts the total from a header such as "0-24/312" or "*/0".
func ParseContentRange(h string) (int, error) {
	i := strings.LastIndex(h, "/")
	if i < 0 || i == len(h)-1 {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}
	total := h[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("store did not report an exact count")
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("parse Content-Range %q: %w", h, err)
	}
	return n, nil
}
