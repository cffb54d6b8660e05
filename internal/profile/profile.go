// Package profile reports per-field statistics for schema-less collections.
package profile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/database"
)

// Strategy selects how distinct values are counted.
type Strategy string

// Distinct counting strategies.
const (
	// StrategyAggregate groups non-empty values with an aggregation pipeline.
	StrategyAggregate Strategy = "aggregate"
	// StrategyDistinct uses the server's distinct command. Array values are
	// counted per element.
	StrategyDistinct Strategy = "distinct"
)

// Collection is the read surface profiling needs.
type Collection interface {
	Count(ctx context.Context, filter any) (int64, error)
	Find(ctx context.Context, filter any, fo database.FindOptions) ([]bson.M, error)
	Aggregate(ctx context.Context, pipeline any) ([]bson.M, error)
	Distinct(ctx context.Context, field string, filter any) ([]any, error)
}

// Config controls sampling and distinct counting.
type Config struct {
	SampleSize int
	Strategy   Strategy
}

// FieldStats holds the statistics of one field.
type FieldStats struct {
	Distinct int64
	Null     int64
}

// Report is the profile of one collection.
type Report struct {
	Collection string
	Total      int64
	Fields     map[string]FieldStats
	// Status is the document count per status value; nil when the sample had
	// no status field.
	Status map[string]int64
}

func emptyFilter(key string) bson.M {
	return bson.M{key: bson.M{"$in": bson.A{nil, ""}}}
}

func presentFilter(key string) bson.M {
	return bson.M{key: bson.M{"$exists": true, "$nin": bson.A{nil, ""}}}
}

// Profile counts documents, discovers keys from a sample and computes
// FieldStats for each key.
func Profile(ctx context.Context, name string, c Collection, cfg Config) (Report, error) {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAggregate
	}
	rep := Report{Collection: name, Fields: map[string]FieldStats{}}

	total, err := c.Count(ctx, nil)
	if err != nil {
		return rep, err
	}
	rep.Total = total

	sample, err := c.Find(ctx, bson.M{}, database.FindOptions{Limit: int64(cfg.SampleSize)})
	if err != nil {
		return rep, fmt.Errorf("sample %s: %w", name, err)
	}
	keys := map[string]struct{}{}
	for _, doc := range sample {
		for k := range doc {
			keys[k] = struct{}{}
		}
	}

	for k := range keys {
		null, err := c.Count(ctx, emptyFilter(k))
		if err != nil {
			return rep, err
		}
		distinct, err := countDistinct(ctx, c, k, cfg.Strategy)
		if err != nil {
			return rep, fmt.Errorf("distinct %s.%s: %w", name, k, err)
		}
		rep.Fields[k] = FieldStats{Distinct: distinct, Null: null}
	}

	if _, ok := keys["status"]; ok {
		if rep.Status, err = statusDistribution(ctx, c); err != nil {
			return rep, fmt.Errorf("status distribution %s: %w", name, err)
		}
	}
	return rep, nil
}

func countDistinct(ctx context.Context, c Collection, key string, strategy Strategy) (int64, error) {
	switch strategy {
	case StrategyDistinct:
		vals, err := c.Distinct(ctx, key, presentFilter(key))
		if err != nil {
			return 0, err
		}
		return int64(len(vals)), nil
	case StrategyAggregate:
		out, err := c.Aggregate(ctx, bson.A{
			bson.D{{Key: "$match", Value: presentFilter(key)}},
			bson.D{{Key: "$group", Value: bson.M{"_id": "$" + key}}},
			bson.D{{Key: "$count", Value: "n"}},
		})
		if err != nil {
			return 0, err
		}
		if len(out) == 0 {
			return 0, nil
		}
		return toInt64(out[0]["n"]), nil
	default:
		return 0, fmt.Errorf("unknown distinct strategy %q", strategy)
	}
}

func statusDistribution(ctx context.Context, c Collection) (map[string]int64, error) {
	out, err := c.Aggregate(ctx, bson.A{
		bson.D{{Key: "$match", Value: presentFilter("status")}},
		bson.D{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	dist := make(map[string]int64, len(out))
	for _, doc := range out {
		dist[fmt.Sprint(doc["_id"])] = toInt64(doc["count"])
	}
	return dist, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// Lines renders the report, fields and statuses in name order.
func (r Report) Lines() []string {
	lines := []string{fmt.Sprintf("Collection '%s' has %d documents.", r.Collection, r.Total)}
	for _, k := range sortedKeys(r.Fields) {
		fs := r.Fields[k]
		lines = append(lines, fmt.Sprintf("Field '%s' in '%s': %d distinct values, %d null/empty values.",
			k, r.Collection, fs.Distinct, fs.Null))
	}
	for _, s := range sortedKeys(r.Status) {
		lines = append(lines, fmt.Sprintf("Status '%s' in '%s': %d documents.", s, r.Collection, r.Status[s]))
	}
	return lines
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Run profiles each collection, logs every line and writes all lines to w.
func Run(
	ctx context.Context,
	open func(name string) Collection,
	names []string,
	cfg Config,
	w io.Writer,
	logger *zap.Logger,
) ([]Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bw := bufio.NewWriter(w)
	reports := make([]Report, 0, len(names))
	for _, name := range names {
		logger.Info("profiling collection", zap.String("collection", name), zap.String("strategy", string(cfg.Strategy)))
		rep, err := Profile(ctx, name, open(name), cfg)
		if err != nil {
			return reports, fmt.Errorf("profile %s: %w", name, err)
		}
		for _, line := range rep.Lines() {
			logger.Info(line)
			if _, err := fmt.Fprintln(bw, line); err != nil {
				return reports, fmt.Errorf("write profile output: %w", err)
			}
		}
		reports = append(reports, rep)
	}
	if err := bw.Flush(); err != nil {
		return reports, fmt.Errorf("flush profile output: %w", err)
	}
	return reports, nil
}
