package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Config holds OpenSearch configuration
type Config struct {
	URL                string
	Username           string
	Password           string
	InsecureSkipVerify bool // Skip TLS certificate verification (DEV ONLY - NOT for production)
}

// Client wraps the OpenSearch client
type Client struct {
	client *opensearch.Client
}

// NewClient creates a new OpenSearch client
func NewClient(cfg *Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("OpenSearch URL is required")
	}

	// Configure TLS
	// WARNING: InsecureSkipVerify bypasses certificate validation and should ONLY
	// be used in development. For production, use properly signed certificates.
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	// Build client config
	clientCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Transport: transport,
	}

	// Add authentication if credentials are provided
	if cfg.Username != "" && cfg.Password != "" {
		clientCfg.Username = cfg.Username
		clientCfg.Password = cfg.Password
	}

	// Create client
	client, err := opensearch.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSearch client: %w", err)
	}

	return &Client{client: client}, nil
}

// Ping checks if OpenSearch is reachable
func (c *Client) Ping(ctx context.Context) error {
	req := opensearchapi.PingRequest{}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("ping returned error: %s", res.Status())
	}

	return nil
}

// IndexDocument stores one JSON document in the given index. The telemetry
// sink writes detection events through this; id may be empty to let
// OpenSearch assign one.
func (c *Client) IndexDocument(ctx context.Context, index, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index request returned error: %s", res.Status())
	}
	return nil
}

// Search executes a query against the given index and decodes the raw
// response body into dest.
func (c *Client) Search(ctx context.Context, index string, query any, dest any) error {
	body, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("search request returned error: %s", res.Status())
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read search response: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode search response: %w", err)
	}
	return nil
}

// EnsureIndex creates an index with the given mapping if it doesn't exist.
func (c *Client) EnsureIndex(ctx context.Context, index string, mapping string) error {
	exists := opensearchapi.IndicesExistsRequest{Index: []string{index}}
	res, err := exists.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("index exists check failed: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	create := opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  strings.NewReader(mapping),
	}
	createRes, err := create.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("index create failed: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("index create returned error: %s", createRes.Status())
	}
	return nil
}

// GetClient returns the underlying OpenSearch client
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// Close closes the client connection
func (c *Client) Close() error {
	// OpenSearch Go client doesn't have explicit close
	// Connections are managed by the http.Transport
	return nil
}
