/**
 * @description
 * This package provides the client for the chain query collaborator: a
 * structured-query HTTP API over the gateway event index, plus a head-height
 * endpoint returning the current chain tip. It is the only component that
 * talks to the chain side; everything downstream consumes typed rows.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, strconv, strings, time:
 *   Standard Go libraries.
 * - internal/domain: Cursor and TransferRow types.
 *
 * @notes
 * - Responses are loosely typed (a column-name array plus row arrays whose
 *   values may be JSON numbers, strings, or null); decoding normalizes them
 *   into domain.TransferRow.
 * - The head height arrives as a hex-encoded unsigned integer string and is
 *   parsed with ParseUint so a high-bit value is never misread as negative.
 */
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chainmart/settlement-service/internal/domain"
)

// EventTable is the namespace/table selector of the gateway event index.
const (
	DefaultNamespace = "gateway"
	EventTable       = "payment_events"
)

// Client queries the chain event index over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	namespace  string
	httpClient *http.Client
}

// NewClient creates a chain query client. The HTTP client carries a bounded
// timeout so a slow upstream cannot stall a tick beyond its deadline.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		namespace: DefaultNamespace,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// queryRequest is the wire form of one structured query.
type queryRequest struct {
	Namespace string   `json:"namespace"`
	Table     string   `json:"table"`
	Where     *Expr    `json:"where,omitempty"`
	OrderBy   []string `json:"order_by"`
	Limit     int      `json:"limit"`
}

// queryResponse is the wire form of a query result: column names plus rows
// of loosely typed values.
type queryResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type headResponse struct {
	Height string `json:"height"`
}

// FetchSince returns up to pageSize gateway event rows strictly after the
// cursor, ordered ascending by (blockNumber, transactionIndex, logIndex).
func (c *Client) FetchSince(ctx context.Context, cursor domain.Cursor, pageSize int) ([]domain.TransferRow, error) {
	req := queryRequest{
		Namespace: c.namespace,
		Table:     EventTable,
		Where:     AfterCursor(cursor),
		OrderBy:   []string{ColBlockNumber, ColTransactionIndex, ColLogIndex},
		Limit:     pageSize,
	}

	var resp queryResponse
	if err := c.post(ctx, "/v1/query", req, &resp); err != nil {
		return nil, fmt.Errorf("query gateway events: %w", err)
	}

	return decodeRows(resp)
}

// HeadHeight returns the current chain head height. The collaborator encodes
// it as a hex string ("0x..."); it is parsed as an unsigned integer before
// any range handling so values with the high bit set survive intact.
func (c *Client) HeadHeight(ctx context.Context) (uint64, error) {
	var resp headResponse
	if err := c.get(ctx, "/v1/head", &resp); err != nil {
		return 0, fmt.Errorf("fetch head height: %w", err)
	}

	raw := strings.TrimSpace(resp.Height)
	hex := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if hex == "" {
		return 0, fmt.Errorf("empty head height %q", raw)
	}
	height, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse head height %q: %w", raw, err)
	}
	return height, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeRows maps the positional row arrays onto typed rows using the
// column-name header. Unknown columns are ignored; missing ones decode to
// zero values.
func decodeRows(resp queryResponse) ([]domain.TransferRow, error) {
	index := make(map[string]int, len(resp.Columns))
	for i, name := range resp.Columns {
		index[name] = i
	}

	rows := make([]domain.TransferRow, 0, len(resp.Rows))
	for i, raw := range resp.Rows {
		if len(raw) < len(resp.Columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(raw), len(resp.Columns))
		}
		row := domain.TransferRow{
			TxHash:         cellString(raw, index, ColTxHash),
			GatewayAddress: cellString(raw, index, ColGatewayAddress),
			PayerAddress:   cellString(raw, index, ColPayerAddress),
			Amount:         cellString(raw, index, ColAmount),
			Payload:        cellString(raw, index, ColPayload),
		}
		block, err := cellUint(raw, index, ColBlockNumber)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		txIndex, err := cellUint(raw, index, ColTransactionIndex)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		logIndex, err := cellUint(raw, index, ColLogIndex)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if txIndex > math.MaxUint32 {
			return nil, fmt.Errorf("row %d: %s %d out of range", i, ColTransactionIndex, txIndex)
		}
		if logIndex > math.MaxUint32 {
			return nil, fmt.Errorf("row %d: %s %d out of range", i, ColLogIndex, logIndex)
		}
		row.BlockNumber = block
		row.TransactionIndex = uint32(txIndex)
		row.LogIndex = uint32(logIndex)
		rows = append(rows, row)
	}
	return rows, nil
}

func cellString(row []any, index map[string]int, column string) string {
	i, ok := index[column]
	if !ok {
		return ""
	}
	switch v := row[i].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// Keep the literal form: a negative or fractional JSON number must
		// survive decoding intact so downstream validation can reject it,
		// not get wrapped into a huge positive integer.
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func cellUint(row []any, index map[string]int, column string) (uint64, error) {
	i, ok := index[column]
	if !ok {
		return 0, fmt.Errorf("missing column %q", column)
	}
	switch v := row[i].(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("negative value for %q", column)
		}
		return uint64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			return strconv.ParseUint(s[2:], 16, 64)
		}
		return strconv.ParseUint(s, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T for %q", v, column)
	}
}
