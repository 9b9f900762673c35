package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/holdings-tracker/internal/config"
	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/logging"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/retry"
	"github.com/holdings-tracker/internal/types"
)

const duneProvider = "dune"

// Dune execution states
const (
	DuneStatePending   = "QUERY_STATE_PENDING"
	DuneStateExecuting = "QUERY_STATE_EXECUTING"
	DuneStateCompleted = "QUERY_STATE_COMPLETED"
	DuneStateFailed    = "QUERY_STATE_FAILED"
	DuneStateCancelled = "QUERY_STATE_CANCELLED"
	DuneStateExpired   = "QUERY_STATE_EXPIRED"
)

// Result columns accepted for each transfer event field, in preference order
var duneColumns = map[string][]string{
	"time":             {"time", "block_time", "evt_block_time"},
	"contract_address": {"contract_address", "token_address"},
	"category":         {"category"},
	"value":            {"value", "amount_raw"},
	"decimal":          {"decimal", "decimals"},
	"ticker":           {"ticker", "symbol"},
	"token":            {"token", "token_name"},
}

// DuneClient runs saved Dune queries that return the transfer history of the
// tracked address on one chain.
type DuneClient struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	pageSize     int
	retry        *retry.Config
	params       map[string]string
}

// NewDuneClient creates a Dune query API client. A non-empty address is
// passed to every execution as the "address" query parameter.
func NewDuneClient(cfg config.DuneConfig, address string, retryCfg *retry.Config) *DuneClient {
	c := &DuneClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   newHTTPClient(),
		pollInterval: cfg.PollInterval,
		pageSize:     cfg.PageSize,
		retry:        retryCfg,
	}
	if address != "" {
		c.params = map[string]string{"address": address}
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.dune.com/api/v1"
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 10 * time.Second
	}
	if c.pageSize <= 0 {
		c.pageSize = 1000
	}
	return c
}

type duneExecution struct {
	ExecutionID string `json:"execution_id"`
	State       string `json:"state"`
}

type duneResults struct {
	ExecutionID string `json:"execution_id"`
	State       string `json:"state"`
	NextOffset  *int   `json:"next_offset"`
	Result      struct {
		Rows     []map[string]interface{} `json:"rows"`
		Metadata struct {
			ColumnNames   []string `json:"column_names"`
			TotalRowCount int      `json:"total_row_count"`
		} `json:"metadata"`
	} `json:"result"`
}

func (c *DuneClient) call(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	return retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Dune-Api-Key", c.apiKey)
		return doJSON(c.httpClient, duneProvider, req, out)
	})
}

// ExecuteQuery starts an execution of queryID and returns its execution ID
func (c *DuneClient) ExecuteQuery(ctx context.Context, queryID int) (string, error) {
	var body []byte
	if len(c.params) > 0 {
		b, err := json.Marshal(map[string]interface{}{"query_parameters": c.params})
		if err != nil {
			return "", fmt.Errorf("failed to encode query parameters: %w", err)
		}
		body = b
	}

	var exec duneExecution
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/query/%d/execute", queryID), nil, body, &exec); err != nil {
		return "", err
	}
	if exec.ExecutionID == "" {
		return "", apperrors.NewProviderError(duneProvider, fmt.Errorf("query %d: no execution id returned", queryID))
	}
	return exec.ExecutionID, nil
}

// ExecutionState returns the current state of an execution
func (c *DuneClient) ExecutionState(ctx context.Context, executionID string) (string, error) {
	var exec duneExecution
	if err := c.call(ctx, http.MethodGet, "/execution/"+url.PathEscape(executionID)+"/status", nil, nil, &exec); err != nil {
		return "", err
	}
	return exec.State, nil
}

// WaitForCompletion polls an execution until it completes, fails or ctx is done
func (c *DuneClient) WaitForCompletion(ctx context.Context, executionID string) error {
	logger := logging.FromContext(ctx).WithField("executionId", executionID)

	for {
		state, err := c.ExecutionState(ctx, executionID)
		if err != nil {
			return err
		}

		switch state {
		case DuneStateCompleted:
			return nil
		case DuneStateFailed, DuneStateCancelled, DuneStateExpired:
			return apperrors.NewProviderError(duneProvider, fmt.Errorf("execution %s ended in %s", executionID, state))
		}

		logger.Debugf("Dune execution %s, polling again in %s", state, c.pollInterval)
		if err := contextSleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
}

// Results pages through the rows of a completed execution
func (c *DuneClient) Results(ctx context.Context, executionID string) ([]map[string]interface{}, error) {
	var (
		rows   []map[string]interface{}
		offset int
	)

	for page := 0; ; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))

		var res duneResults
		if err := c.call(ctx, http.MethodGet, "/execution/"+url.PathEscape(executionID)+"/results", q, nil, &res); err != nil {
			return nil, err
		}
		rows = append(rows, res.Result.Rows...)

		logging.FromContext(ctx).Debugf("Dune page %d: got %d rows for execution %s", page, len(res.Result.Rows), executionID)

		if res.NextOffset == nil || len(res.Result.Rows) == 0 {
			break
		}
		offset = *res.NextOffset
	}
	return rows, nil
}

// FetchTransfers executes the chain's query and converts its rows into
// transfer events. Rows keep their 1-based position as Line.
func (c *DuneClient) FetchTransfers(ctx context.Context, chain types.ChainID, queryID int) ([]models.TransferEvent, error) {
	if queryID <= 0 {
		return nil, apperrors.NewInvalidParameterError("dune_query_id", fmt.Sprintf("no query configured for %s", chain))
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{"chain": chain, "queryId": queryID})

	executionID, err := c.ExecuteQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}
	logger.WithField("executionId", executionID).Info("Dune query execution started")

	if err := c.WaitForCompletion(ctx, executionID); err != nil {
		return nil, err
	}

	rows, err := c.Results(ctx, executionID)
	if err != nil {
		return nil, err
	}

	events := make([]models.TransferEvent, 0, len(rows))
	for i, row := range rows {
		events = append(events, rowToTransferEvent(i+1, row))
	}

	logger.Infof("Fetched %d transfer events from Dune", len(events))
	return events, nil
}

func rowToTransferEvent(line int, row map[string]interface{}) models.TransferEvent {
	get := func(field string) string {
		for _, col := range duneColumns[field] {
			if v, ok := row[col]; ok && v != nil {
				return jsonString(v)
			}
		}
		return ""
	}

	return models.TransferEvent{
		Line:            line,
		Time:            get("time"),
		ContractAddress: get("contract_address"),
		Category:        get("category"),
		Value:           get("value"),
		Decimal:         get("decimal"),
		Ticker:          get("ticker"),
		Token:           get("token"),
	}
}
