package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"eventScope/internal/indexer"
	"eventScope/internal/model"
)

const (
	DefaultBaseURL = "https://api.etherscan.io/v2/api"

	statusOK         = "1"
	noRecordsMessage = "No records found"
)

// Config configures the explorer client.
type Config struct {
	BaseURL string
	APIKey  string
	ChainID uint64
	// RequestsPerSecond caps outgoing requests when positive.
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Client queries an Etherscan-compatible block explorer API.
type Client struct {
	baseURL string
	apiKey  string
	chainID uint64
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient builds an explorer client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("explorer: invalid base url: %w", err)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("explorer: chain id is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		chainID: cfg.ChainID,
		http:    httpClient,
		limiter: limiter,
		now:     time.Now,
	}, nil
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type logItem struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        string   `json:"logIndex"`
}

// FetchPage implements indexer.Source with the logs/getLogs endpoint.
func (c *Client) FetchPage(ctx context.Context, q indexer.Query, r indexer.BlockRange, page, pageSize int) ([]model.LogEntry, error) {
	params := c.logParams(q, r, page, pageSize)

	resp, err := c.get(ctx, "getLogs", params)
	if err != nil {
		return nil, err
	}
	if resp.Status != statusOK {
		if resp.Message == noRecordsMessage {
			return []model.LogEntry{}, nil
		}
		return nil, apiError("getLogs", resp)
	}

	var items []logItem
	if err := json.Unmarshal(resp.Result, &items); err != nil {
		return nil, fmt.Errorf("explorer: getLogs: decode result: %w", err)
	}

	entries := make([]model.LogEntry, 0, len(items))
	for _, item := range items {
		entry, err := item.toEntry()
		if err != nil {
			return nil, fmt.Errorf("explorer: getLogs: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LatestBlock returns the last block mined before now.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", "getblocknobytime")
	params.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	params.Set("closest", "before")

	resp, err := c.get(ctx, "getblocknobytime", params)
	if err != nil {
		return 0, err
	}
	if resp.Status != statusOK {
		return 0, apiError("getblocknobytime", resp)
	}

	var raw string
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return 0, fmt.Errorf("explorer: getblocknobytime: decode result: %w", err)
	}
	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("explorer: getblocknobytime: invalid block %q: %w", raw, err)
	}
	return block, nil
}

func (c *Client) logParams(q indexer.Query, r indexer.BlockRange, page, pageSize int) url.Values {
	params := url.Values{}
	params.Set("module", "logs")
	params.Set("action", "getLogs")
	params.Set("fromBlock", strconv.FormatUint(r.From, 10))
	params.Set("toBlock", strconv.FormatUint(r.To, 10))
	if q.Address != (common.Address{}) {
		params.Set("address", strings.ToLower(q.Address.Hex()))
	}

	set := make([]int, 0, len(q.Topics))
	for i, topic := range q.Topics {
		if topic == nil {
			continue
		}
		params.Set(fmt.Sprintf("topic%d", i), strings.ToLower(topic.Hex()))
		set = append(set, i)
	}
	for a := 0; a < len(set); a++ {
		for b := a + 1; b < len(set); b++ {
			params.Set(fmt.Sprintf("topic%d_%d_opr", set[a], set[b]), "and")
		}
	}

	params.Set("page", strconv.Itoa(page))
	params.Set("offset", strconv.Itoa(pageSize))
	return params
}

func (c *Client) get(ctx context.Context, op string, params url.Values) (*apiResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params.Set("chainid", strconv.FormatUint(c.chainID, 10))
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("explorer: %s: create request: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, indexer.Transient("explorer: "+op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, indexer.Transient("explorer: "+op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		text := string(body)
		if len(text) > 256 {
			text = text[:256]
		}
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, text)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, indexer.Transient("explorer: "+op, err)
		}
		return nil, fmt.Errorf("explorer: %s: %w", op, err)
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, indexer.Transient("explorer: "+op, fmt.Errorf("decode response: %w", err))
	}
	return &out, nil
}

// apiError converts a status "0" response into an error. Rate-limit and
// timeout responses are transient.
func apiError(op string, resp *apiResponse) error {
	detail := resp.Message
	var text string
	if err := json.Unmarshal(resp.Result, &text); err == nil && text != "" {
		detail = fmt.Sprintf("%s: %s", resp.Message, text)
	}
	if detail == "" {
		detail = "unknown error"
	}
	err := fmt.Errorf("api error: %s", detail)

	lower := strings.ToLower(detail)
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "max calls") ||
		strings.Contains(lower, "timeout") || strings.Contains(lower, "too many") {
		return indexer.Transient("explorer: "+op, err)
	}
	return fmt.Errorf("explorer: %s: %w", op, err)
}

func (item logItem) toEntry() (model.LogEntry, error) {
	block, err := parseQuantity(item.BlockNumber)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("block number %q: %w", item.BlockNumber, err)
	}
	index, err := parseQuantity(item.LogIndex)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("log index %q: %w", item.LogIndex, err)
	}

	topics := make([]common.Hash, 0, len(item.Topics))
	for _, topic := range item.Topics {
		if topic == "" {
			continue
		}
		topics = append(topics, common.HexToHash(topic))
	}

	return model.LogEntry{
		Address:     common.HexToAddress(item.Address),
		Topics:      topics,
		Data:        common.FromHex(item.Data),
		BlockNumber: block,
		TxHash:      common.HexToHash(item.TransactionHash),
		LogIndex:    uint(index),
	}, nil
}

// parseQuantity reads a hex ("0x1f", "0x" for zero) or decimal quantity.
func parseQuantity(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			return 0, nil
		}
		return strconv.ParseUint(digits, 16, 64)
	}
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
