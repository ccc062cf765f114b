// Package schemaregistry implements the Confluent-style schema registry
// HTTP client used by the table mapper in Avro mode, plus a
// no-op implementation for JSON mode where no registry is required.
package schemaregistry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-errors/errors"

	"github.com/bottledwater/bwkafka/internal/logging"
)

// Client posts schemas to a Confluent-compatible schema registry and
// caches the assigned id per (subject, schema) pair so repeated
// registrations of an unchanged schema are free.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger
	cache   map[string]int32
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logging.NewLogger("SchemaRegistry"),
		cache:   make(map[string]int32),
	}
}

type registerRequest struct {
	Schema string `json:"schema"`
}

type registerResponse struct {
	ID int32 `json:"id"`
}

// Register posts schemaJSON under subject, returning the id the registry
// assigned. Subsequent calls with the same subject and byte-identical
// schema are served from cache without a round-trip.
func (c *Client) Register(subject string, schemaJSON []byte) (int32, error) {
	cacheKey := subject + "\x00" + string(schemaJSON)
	if id, ok := c.cache[cacheKey]; ok {
		return id, nil
	}

	body, err := json.Marshal(registerRequest{Schema: string(schemaJSON)})
	if err != nil {
		return 0, errors.Wrap(fmt.Errorf("marshaling register request: %w", err), 0)
	}

	url := fmt.Sprintf("%s/subjects/%s/versions", c.baseURL, subject)

	var out registerResponse
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	operation := func() error {
		resp, err := c.http.Post(url, "application/vnd.schemaregistry.v1+json", bytes.NewReader(body))
		if err != nil {
			// Network-level failures are worth retrying; a registry that is
			// merely slow to come up on a fresh cluster is a common case.
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("schema registry returned status %d for subject %s", resp.StatusCode, subject)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("schema registry returned status %d for subject %s", resp.StatusCode, subject))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return 0, errors.Wrap(fmt.Errorf("registering schema for subject %s: %w", subject, err), 0)
	}

	c.cache[cacheKey] = out.ID
	c.logger.Verbosef("registered schema for subject %s as id %d", subject, out.ID)
	return out.ID, nil
}

// NoOp is the registrar used in JSON mode, where the mapper never calls
// Register in practice but a non-nil implementation keeps wiring uniform.
type NoOp struct{}

func (NoOp) Register(_ string, _ []byte) (int32, error) {
	return -1, nil
}
