// Package catalog is the read-side client for the dataset ingestion
// subsystem. The research core never touches dataset storage directly.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rnednur/felix-sub000/internal/models"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrDatasetNotReady = errors.New("dataset not ready")
)

type Catalog interface {
	GetSchema(ctx context.Context, datasetID string) (*models.Schema, error)
	IsReady(ctx context.Context, datasetID string) (bool, error)
}

type httpCatalog struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCatalog(baseURL string) Catalog {
	return &httpCatalog{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *httpCatalog) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build catalog request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "catalog request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode catalog response")
	case http.StatusNotFound:
		return ErrDatasetNotFound
	default:
		return fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}
}

func (c *httpCatalog) GetSchema(ctx context.Context, datasetID string) (*models.Schema, error) {
	var schema models.Schema
	url := fmt.Sprintf("%s/datasets/%s/schema", c.baseURL, datasetID)
	if err := c.getJSON(ctx, url, &schema); err != nil {
		return nil, err
	}
	schema.DatasetID = datasetID
	return &schema, nil
}

func (c *httpCatalog) IsReady(ctx context.Context, datasetID string) (bool, error) {
	var ds models.Dataset
	url := fmt.Sprintf("%s/datasets/%s", c.baseURL, datasetID)
	if err := c.getJSON(ctx, url, &ds); err != nil {
		return false, err
	}
	return ds.Status == models.DatasetStatusReady, nil
}
