package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
)

// Client implements remote.Backend against a server built by NewHandler.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ remote.Backend = (*Client)(nil)

// NewClient returns a client for the server at baseURL. A nil httpClient
// uses http.DefaultClient; deadlines come from the request context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Select(ctx context.Context, table record.Table, tenantID string) ([]record.Record, error) {
	data, err := c.do(ctx, table, http.MethodGet, tablePath(table, "", tenantID), nil)
	if err != nil {
		return nil, err
	}
	return record.UnmarshalRecords(data)
}

func (c *Client) Insert(ctx context.Context, table record.Table, rec record.Record) (record.Record, error) {
	return c.sendRecord(ctx, table, http.MethodPost, tablePath(table, "", ""), rec)
}

func (c *Client) Update(ctx context.Context, table record.Table, id, tenantID string, fields record.Record) (record.Record, error) {
	return c.sendRecord(ctx, table, http.MethodPatch, tablePath(table, id, tenantID), fields)
}

func (c *Client) Delete(ctx context.Context, table record.Table, id, tenantID string) error {
	_, err := c.do(ctx, table, http.MethodDelete, tablePath(table, id, tenantID), nil)
	return err
}

func (c *Client) Upsert(ctx context.Context, table record.Table, rec record.Record) (record.Record, error) {
	return c.sendRecord(ctx, table, http.MethodPut, tablePath(table, "", ""), rec)
}

func (c *Client) AdjustStock(ctx context.Context, productID string, delta int64, tenantID string) (int64, error) {
	body, err := json.Marshal(StockUpdateRequest{ProductID: productID, QuantityDelta: delta, TenantID: tenantID})
	if err != nil {
		return 0, err
	}
	data, err := c.do(ctx, record.Products, http.MethodPost, "/v1/rpc/atomic_stock_update", body)
	if err != nil {
		return 0, err
	}
	var resp StockUpdateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("decode stock update: %w", err)
	}
	return resp.Quantity, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "", http.MethodGet, "/healthz", nil)
	return err
}

func (c *Client) sendRecord(ctx context.Context, table record.Table, method, path string, rec record.Record) (record.Record, error) {
	body, err := record.MarshalRecord(rec)
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, table, method, path, body)
	if err != nil {
		return nil, err
	}
	return record.UnmarshalRecord(data)
}

// do performs one round trip. Transport failures and 5xx replies become
// UNAVAILABLE errors; other non-2xx replies carry the server's error code.
func (c *Client) do(ctx context.Context, table record.Table, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, remote.Unavailable(table, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, remote.Unavailable(table, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	var er ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Code != "" && er.Code != "INTERNAL" {
		return nil, &remote.Error{Code: er.Code, Table: record.Table(er.Table), Message: er.Message}
	}
	if resp.StatusCode >= 500 {
		return nil, remote.NewError(remote.CodeUnavailable, table, "server returned %s", resp.Status)
	}
	return nil, remote.NewError(remote.CodeRejected, table, "server returned %s", resp.Status)
}

func tablePath(table record.Table, id, tenantID string) string {
	p := "/v1/" + url.PathEscape(string(table))
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	if tenantID != "" {
		p += "?tenant_id=" + url.QueryEscape(tenantID)
	}
	return p
}
