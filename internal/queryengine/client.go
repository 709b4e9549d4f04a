// Package queryengine is the client for the read-only SQL execution
// service. Every call carries a short-lived dataset-scoped token.
package queryengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/rnednur/felix-sub000/internal/models"
)

// Engine runs a single read-only query against a dataset.
type Engine interface {
	Run(ctx context.Context, datasetID, query string) (*models.Table, error)
}

type queryRequest struct {
	DatasetID string `json:"dataset_id"`
	SQL       string `json:"sql"`
	MaxRows   int    `json:"max_rows"`
}

type httpEngine struct {
	baseURL   string
	client    *http.Client
	jwtSecret string
	maxRows   int
}

func NewHTTPEngine(baseURL, jwtSecret string, queryTimeout time.Duration, maxRows int) Engine {
	return &httpEngine{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: queryTimeout},
		jwtSecret: jwtSecret,
		maxRows:   maxRows,
	}
}

// MintToken issues a short-lived token that grants read-only query access
// to a single dataset. The same tokens are handed to sandbox containers.
func MintToken(secret, datasetID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   datasetID,
		"scope": "query:read",
		"exp":   time.Now().Add(ttl).Unix(),
		"iat":   time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func (e *httpEngine) Run(ctx context.Context, datasetID, query string) (*models.Table, error) {
	query, err := SanitizeQuery(query)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(queryRequest{DatasetID: datasetID, SQL: query, MaxRows: e.maxRows})
	if err != nil {
		return nil, errors.Wrap(err, "marshal query request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build query request")
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := MintToken(e.jwtSecret, datasetID, 5*time.Minute)
	if err != nil {
		return nil, errors.Wrap(err, "mint query token")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "query engine request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return nil, fmt.Errorf("query engine: %s", errBody.Error)
		}
		return nil, fmt.Errorf("query engine returned status %d", resp.StatusCode)
	}

	var table models.Table
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return nil, errors.Wrap(err, "decode query result")
	}
	return &table, nil
}
