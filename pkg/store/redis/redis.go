// Package redis provides a shared results sink for multi-worker
// calibration: each worker pushes its records, and the aggregating host
// loads the merged tree.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/nshadows/pkg/shadow"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

const keysSet = "nshadows:results"

// ResultsStore stores calibration records in redis, one entry per
// (model, kind, subgraph-candidate) bucket.
type ResultsStore struct {
	client *redis.Client
}

// NewResultsStore creates a store around an existing client.
func NewResultsStore(client *redis.Client) *ResultsStore {
	return &ResultsStore{client: client}
}

func (s *ResultsStore) makeKey(modelTag, kind, key string) string {
	return fmt.Sprintf("nshadows:result:%s:%s:%s", modelTag, kind, key)
}

type recordPayload struct {
	RefNodeName      string          `json:"ref_node_name"`
	QConfigStr       string          `json:"qconfig_str"`
	ComparisonFnName string          `json:"comparison_fn_name"`
	Values           []tensorPayload `json:"values"`
	Comparisons      []tensorPayload `json:"comparisons"`
}

type tensorPayload struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func encodeRecord(rec *shadow.Record) recordPayload {
	return recordPayload{
		RefNodeName:      rec.RefNodeName,
		QConfigStr:       rec.QConfigStr,
		ComparisonFnName: rec.ComparisonFnName,
		Values:           encodeTensors(rec.Values),
		Comparisons:      encodeTensors(rec.Comparisons),
	}
}

func encodeTensors(ts []*tensor.Tensor) []tensorPayload {
	out := make([]tensorPayload, len(ts))
	for i, t := range ts {
		out[i] = tensorPayload{Shape: t.Shape(), Data: t.Clone().Data()}
	}
	return out
}

func decodeTensors(payloads []tensorPayload) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(payloads))
	for i, p := range payloads {
		out[i] = tensor.FromSlice(p.Data, p.Shape...)
	}
	return out
}

// SaveResults pushes every record bucket of the tree.
func (s *ResultsStore) SaveResults(ctx context.Context, results shadow.Results) error {
	for modelTag, kinds := range results {
		for kind, keys := range kinds {
			for key, records := range keys {
				if len(records) == 0 {
					continue
				}
				data, err := json.Marshal(encodeRecord(records[0]))
				if err != nil {
					return fmt.Errorf("failed to marshal record %s: %w", key, err)
				}
				redisKey := s.makeKey(modelTag, kind, key)
				if err := s.client.Set(ctx, redisKey, data, 0).Err(); err != nil {
					return fmt.Errorf("failed to SET key %s: %w", redisKey, err)
				}
				if err := s.client.SAdd(ctx, keysSet, redisKey).Err(); err != nil {
					return fmt.Errorf("failed to SADD key %s: %w", redisKey, err)
				}
			}
		}
	}
	return nil
}

// LoadResults reads the merged tree back from every stored bucket.
func (s *ResultsStore) LoadResults(ctx context.Context) (shadow.Results, error) {
	keys, err := s.client.SMembers(ctx, keysSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to SMEMBERS %s: %w", keysSet, err)
	}

	results := shadow.NewResults()
	for _, redisKey := range keys {
		data, err := s.client.Get(ctx, redisKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("failed to GET key %s: %w", redisKey, err)
		}

		var payload recordPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record from %s: %w", redisKey, err)
		}

		parts := strings.SplitN(strings.TrimPrefix(redisKey, "nshadows:result:"), ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed results key %q", redisKey)
		}

		rec := results.Bucket(parts[0], parts[1], parts[2])
		rec.RefNodeName = payload.RefNodeName
		rec.QConfigStr = payload.QConfigStr
		rec.ComparisonFnName = payload.ComparisonFnName
		rec.Values = decodeTensors(payload.Values)
		rec.Comparisons = decodeTensors(payload.Comparisons)
	}

	return results, nil
}
