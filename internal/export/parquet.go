package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/database"
	"github.com/JakeFAU/countly-etl/internal/publisher"
	"github.com/JakeFAU/countly-etl/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

// Source is a collection that can be counted and paged.
type Source interface {
	Count(ctx context.Context, filter any) (int64, error)
	Find(ctx context.Context, filter any, fo database.FindOptions) ([]bson.M, error)
}

// ParquetConfig controls a Parquet export.
type ParquetConfig struct {
	Dir        string
	BatchSize  int
	TestMode   bool
	SampleSize int
	// Upload enables saving each file through Uploader and publishing a
	// completion message.
	Upload       bool
	ObjectPrefix string
	Topic        string
	// RunID tags the completion message; a random ID is used when empty.
	RunID string
}

// ParquetExporter writes collections as batched Parquet files.
type ParquetExporter struct {
	open      func(name string) Source
	cfg       ParquetConfig
	uploader  storage.Provider
	publisher publisher.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// ParquetResult reports what an export produced.
type ParquetResult struct {
	Files     []string
	Objects   []string
	Documents int64
	MessageID string
}

// NewParquetExporter builds an exporter. uploader and pub may be nil when
// Upload is false.
func NewParquetExporter(
	open func(name string) Source,
	cfg ParquetConfig,
	uploader storage.Provider,
	pub publisher.Publisher,
	logger *zap.Logger,
) *ParquetExporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 10
	}
	if uploader == nil {
		uploader = storage.NoOpProvider{}
	}
	if pub == nil {
		pub = publisher.NoOp{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParquetExporter{open: open, cfg: cfg, uploader: uploader, publisher: pub, logger: logger, now: time.Now}
}

// FileName is the local file name of batch n of collection.
func FileName(collection string, batch int, testMode bool) string {
	prefix := ""
	if testMode {
		prefix = "test_"
	}
	return fmt.Sprintf("%s%s_batch_%d.parquet", prefix, collection, batch)
}

// Export writes every collection in order. An upload failure is logged and
// the export continues; write and read failures abort.
func (e *ParquetExporter) Export(ctx context.Context, collections []string) (ParquetResult, error) {
	var res ParquetResult
	if err := os.MkdirAll(e.cfg.Dir, 0o750); err != nil {
		return res, fmt.Errorf("create export dir: %w", err)
	}
	for _, name := range collections {
		if err := e.exportCollection(ctx, name, &res); err != nil {
			return res, fmt.Errorf("export %s: %w", name, err)
		}
	}
	if e.cfg.Upload {
		runID := e.cfg.RunID
		if runID == "" {
			runID = uuid.NewString()
		}
		id, err := e.publisher.Publish(ctx, e.cfg.Topic, publisher.ExportCompleted{
			RunID:       runID,
			Job:         "export-parquet",
			Collections: collections,
			Objects:     res.Objects,
			Documents:   res.Documents,
			TestMode:    e.cfg.TestMode,
			FinishedAt:  e.now().UTC(),
		})
		if err != nil {
			return res, fmt.Errorf("publish completion: %w", err)
		}
		res.MessageID = id
	}
	e.logger.Info("parquet export complete",
		zap.Int("files", len(res.Files)),
		zap.Int("uploaded", len(res.Objects)),
		zap.Int64("documents", res.Documents),
	)
	return res, nil
}

func (e *ParquetExporter) exportCollection(ctx context.Context, name string, res *ParquetResult) error {
	src := e.open(name)
	total, err := src.Count(ctx, nil)
	if err != nil {
		return err
	}
	limit := int64(e.cfg.BatchSize)
	if e.cfg.TestMode {
		total = min(total, int64(e.cfg.SampleSize))
		limit = min(limit, int64(e.cfg.SampleSize))
		e.logger.Info("test mode export", zap.String("collection", name), zap.Int64("documents", total))
	} else {
		e.logger.Info("exporting collection", zap.String("collection", name), zap.Int64("documents", total))
	}

	for batch := 0; ; batch++ {
		docs, err := src.Find(ctx, bson.M{}, database.FindOptions{
			Skip:  int64(batch) * limit,
			Limit: limit,
			Sort:  bson.D{{Key: "_id", Value: 1}},
		})
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}

		file := FileName(name, batch, e.cfg.TestMode)
		path := filepath.Join(e.cfg.Dir, file)
		if err := WriteParquet(path, name, docs); err != nil {
			return err
		}
		res.Files = append(res.Files, path)
		res.Documents += int64(len(docs))
		e.logger.Info("exported batch", zap.String("file", path), zap.Int("records", len(docs)))

		if e.cfg.Upload {
			object := storage.ObjectName(e.cfg.ObjectPrefix, file)
			uri, err := storage.UploadFile(ctx, e.uploader, path, object, parquetContentType)
			if err != nil {
				e.logger.Error("upload failed", zap.String("object", object), zap.Error(err))
			} else {
				res.Objects = append(res.Objects, uri)
				e.logger.Info("uploaded batch", zap.String("uri", uri))
			}
		} else {
			e.logger.Debug("skipped upload", zap.String("file", file))
		}

		if e.cfg.TestMode || int64(len(docs)) < limit {
			return nil
		}
	}
}

// WriteParquet writes docs to path with one optional string column per key
// seen in the batch. _id is dropped and every value is stringified.
func WriteParquet(path, name string, docs []bson.M) (err error) {
	keys := columnKeys(docs)
	if len(keys) == 0 {
		return fmt.Errorf("batch for %s has no columns", name)
	}
	group := parquet.Group{}
	for _, k := range keys {
		group[k] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema(name, group)

	f, err := os.Create(path) //nolint:gosec // path is built from the export dir
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()

	w := parquet.NewWriter(f, schema)
	rows := make([]parquet.Row, 0, len(docs))
	for _, doc := range docs {
		row := make(parquet.Row, len(keys))
		for i, k := range keys {
			s, ok := Stringify(doc[k])
			if !ok {
				row[i] = parquet.NullValue().Level(0, 0, i)
				continue
			}
			row[i] = parquet.ValueOf(s).Level(0, 1, i)
		}
		rows = append(rows, row)
	}
	if _, err := w.WriteRows(rows); err != nil {
		return fmt.Errorf("write rows to %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", path, err)
	}
	return nil
}

// columnKeys returns the sorted union of document keys, without _id. Parquet
// orders group fields by name, so the sort matches the column indexes.
func columnKeys(docs []bson.M) []string {
	seen := map[string]struct{}{}
	for _, doc := range docs {
		for k := range doc {
			if k == "_id" {
				continue
			}
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
