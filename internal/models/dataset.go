package models

import "time"

type DatasetStatus string

const (
	DatasetStatusProcessing DatasetStatus = "processing"
	DatasetStatusReady      DatasetStatus = "ready"
	DatasetStatusFailed     DatasetStatus = "failed"
)

// Dataset is owned by the ingestion subsystem; the research core only ever
// references it by id and reads its schema.
type Dataset struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    DatasetStatus `json:"status"`
	RowCount  int64         `json:"row_count"`
	CreatedAt time.Time     `json:"created_at"`
}

type ColumnStats struct {
	Min       *float64   `json:"min,omitempty"`
	Max       *float64   `json:"max,omitempty"`
	NullCount int64      `json:"null_count"`
	Distinct  int64      `json:"distinct,omitempty"`
	TopValues []TopValue `json:"top_values,omitempty"`
}

type TopValue struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

type Column struct {
	Name     string       `json:"name"`
	Type     string       `json:"dtype"`
	Nullable bool         `json:"nullable"`
	Stats    *ColumnStats `json:"stats,omitempty"`
}

type Schema struct {
	DatasetID string   `json:"dataset_id"`
	Columns   []Column `json:"columns"`
	RowCount  int64    `json:"row_count"`
}

// Table is a bounded tabular result returned by the analytical query engine.
type Table struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int64            `json:"row_count"` // total before the preview cap
}
