package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when the registry answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx registry response.
type APIError struct {
	Status  int
	Code    string // claim error kind, e.g. "expired"; empty for other errors
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("registry error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("registry error %d: %s", e.Status, e.Message)
}

// Block mirrors a sealed block as served by the registry.
type Block struct {
	Hash              string `json:"hash"`
	Height            int    `json:"height"`
	Body              string `json:"body"`
	Time              int64  `json:"time"`
	PreviousBlockHash string `json:"previousBlockHash"`
}

// Overview is the chain summary from GET /ledger.
type Overview struct {
	Height int    `json:"height"`
	Root   string `json:"root"`
}

// Finding is one integrity problem reported by Validate.
type Finding struct {
	Height int    `json:"height"`
	Kind   string `json:"kind"`
}

// ValidationReport is the result of GET /ledger/validate.
type ValidationReport struct {
	Valid  bool      `json:"valid"`
	Errors []Finding `json:"errors"`
}

// SubmitStarRequest is the body of POST /submitstar.
type SubmitStarRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Star      any    `json:"star"`
}

// Client is a star registry API client. It is safe for concurrent use.
type Client struct {
	registryBase string
	httpClient   *http.Client
	cache        *blockCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithCacheTTL caches BlockByHash results for ttl. Sealed blocks never
// change, so only the registry going away invalidates an entry.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newBlockCache(ttl)
		return nil
	}
}

// New creates a Client for the registry at registryBase.
//
//	c, err := client.New("http://localhost:8000", client.WithTimeout(5*time.Second))
func New(registryBase string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(registryBase); err != nil || registryBase == "" {
		return nil, fmt.Errorf("invalid registry URL %q", registryBase)
	}
	c := &Client{
		registryBase: strings.TrimRight(registryBase, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(registryBase string, opts ...Option) *Client {
	c, err := New(registryBase, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Overview returns the chain height and root hash.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := c.getJSON(ctx, "/api/v1/ledger", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate asks the registry to walk its chain and report integrity findings.
func (c *Client) Validate(ctx context.Context) (*ValidationReport, error) {
	var out ValidationReport
	if err := c.getJSON(ctx, "/api/v1/ledger/validate", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Blocks returns up to limit blocks starting at height from.
func (c *Client) Blocks(ctx context.Context, from, limit int) ([]Block, error) {
	q := url.Values{}
	q.Set("from", strconv.Itoa(from))
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Blocks []Block `json:"blocks"`
	}
	if err := c.getJSON(ctx, "/api/v1/ledger/blocks?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

// BlockByHeight fetches the block at height.
func (c *Client) BlockByHeight(ctx context.Context, height int) (*Block, error) {
	var b Block
	if err := c.getJSON(ctx, "/api/v1/block/height/"+strconv.Itoa(height), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// BlockByHash fetches the block whose hash is hash.
func (c *Client) BlockByHash(ctx context.Context, hash string) (*Block, error) {
	if c.cache != nil {
		if b, ok := c.cache.get(hash); ok {
			return b, nil
		}
	}

	var b Block
	if err := c.getJSON(ctx, "/api/v1/block/hash/"+url.PathEscape(hash), &b); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.set(hash, &b)
	}
	return &b, nil
}

// RequestChallenge returns the message address must sign to claim a star.
func (c *Client) RequestChallenge(ctx context.Context, address string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.postJSON(ctx, "/api/v1/requestValidation", map[string]string{"address": address}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// SubmitStar submits a signed claim and returns the block recording it.
// Rejections are *APIError values whose Code names the failed step.
func (c *Client) SubmitStar(ctx context.Context, req SubmitStarRequest) (*Block, error) {
	var b Block
	if err := c.postJSON(ctx, "/api/v1/submitstar", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// StarsByAddress returns the star payloads claimed by address, oldest first.
func (c *Client) StarsByAddress(ctx context.Context, address string) ([]json.RawMessage, error) {
	var out struct {
		Stars []json.RawMessage `json:"stars"`
	}
	if err := c.getJSON(ctx, "/api/v1/blocks/"+url.PathEscape(address), &out); err != nil {
		return nil, err
	}
	return out.Stars, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.registryBase+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.registryBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Code = payload.Error, payload.Code
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// --- simple in-memory block cache ---

type cacheEntry struct {
	block     *Block
	expiresAt time.Time
}

type blockCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newBlockCache(ttl time.Duration) *blockCache {
	return &blockCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (bc *blockCache) get(hash string) (*Block, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	e, ok := bc.entries[hash]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	cp := *e.block
	return &cp, true
}

func (bc *blockCache) set(hash string, b *Block) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	cp := *b
	bc.entries[hash] = &cacheEntry{block: &cp, expiresAt: time.Now().Add(bc.ttl)}
}
