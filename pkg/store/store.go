// Package store persists calibration results so a run can be
// aggregated later, or on a different machine than the one that ran
// calibration.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rmax-ai/nshadows/pkg/shadow"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// Store manages the SQLite connection and schema.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	// One row per (model, kind, key, record). Identity columns are kept
	// as plain columns for querying; tensor payloads go into JSON
	// blobs.
	query := `
	CREATE TABLE IF NOT EXISTS results (
		model_tag TEXT NOT NULL,
		result_kind TEXT NOT NULL,
		subgraph_key TEXT NOT NULL,
		record_idx INTEGER NOT NULL,

		ref_node_name TEXT NOT NULL,
		qconfig_str TEXT NOT NULL,
		comparison_fn_name TEXT NOT NULL,

		values_json JSON NOT NULL,
		comparisons_json JSON NOT NULL,

		PRIMARY KEY (model_tag, result_kind, subgraph_key, record_idx)
	);

	CREATE INDEX IF NOT EXISTS idx_results_subgraph ON results(subgraph_key);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create results table: %w", err)
	}

	return nil
}

// tensorPayload is the serialized form of one tensor.
type tensorPayload struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func encodeTensors(ts []*tensor.Tensor) ([]byte, error) {
	payloads := make([]tensorPayload, len(ts))
	for i, t := range ts {
		payloads[i] = tensorPayload{Shape: t.Shape(), Data: t.Clone().Data()}
	}
	return json.Marshal(payloads)
}

func decodeTensors(raw []byte) ([]*tensor.Tensor, error) {
	var payloads []tensorPayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, err
	}
	out := make([]*tensor.Tensor, len(payloads))
	for i, p := range payloads {
		out[i] = tensor.FromSlice(p.Data, p.Shape...)
	}
	return out, nil
}

// SaveResults writes a fully populated results tree. Existing rows for
// the same (model, kind, key, record) are replaced.
func (s *Store) SaveResults(ctx context.Context, results shadow.Results) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO results
		(model_tag, result_kind, subgraph_key, record_idx,
		 ref_node_name, qconfig_str, comparison_fn_name,
		 values_json, comparisons_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for modelTag, kinds := range results {
		for kind, keys := range kinds {
			for key, records := range keys {
				for idx, rec := range records {
					valuesJSON, err := encodeTensors(rec.Values)
					if err != nil {
						return fmt.Errorf("failed to encode values for %s: %w", key, err)
					}
					comparisonsJSON, err := encodeTensors(rec.Comparisons)
					if err != nil {
						return fmt.Errorf("failed to encode comparisons for %s: %w", key, err)
					}
					if _, err := stmt.ExecContext(ctx,
						modelTag, kind, key, idx,
						rec.RefNodeName, rec.QConfigStr, rec.ComparisonFnName,
						valuesJSON, comparisonsJSON,
					); err != nil {
						return fmt.Errorf("failed to insert record %s/%d: %w", key, idx, err)
					}
				}
			}
		}
	}

	return tx.Commit()
}

// LoadResults reads the full results tree back.
func (s *Store) LoadResults(ctx context.Context) (shadow.Results, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_tag, result_kind, subgraph_key, record_idx,
		       ref_node_name, qconfig_str, comparison_fn_name,
		       values_json, comparisons_json
		FROM results
		ORDER BY model_tag, result_kind, subgraph_key, record_idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := shadow.NewResults()
	for rows.Next() {
		var (
			modelTag, kind, key             string
			recordIdx                       int
			refNodeName, qconfigStr, fnName string
			valuesJSON, comparisonsJSON     []byte
		)
		if err := rows.Scan(&modelTag, &kind, &key, &recordIdx,
			&refNodeName, &qconfigStr, &fnName,
			&valuesJSON, &comparisonsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		values, err := decodeTensors(valuesJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode values for %s: %w", key, err)
		}
		comparisons, err := decodeTensors(comparisonsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode comparisons for %s: %w", key, err)
		}

		rec := results.Bucket(modelTag, kind, key)
		rec.RefNodeName = refNodeName
		rec.QConfigStr = qconfigStr
		rec.ComparisonFnName = fnName
		rec.Values = values
		rec.Comparisons = comparisons
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate result rows: %w", err)
	}

	return results, nil
}
