package rag

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/timshannon/badgerhold/v4"
)

// localRecord is the on-disk shape of one indexed chunk.
type localRecord struct {
	ID        string `badgerhold:"key"`
	Content   string
	Metadata  map[string]string
	Embedding []float32
	CreatedAt time.Time
}

// LocalRepository keeps the index in a Badger directory and answers
// similarity queries with an exact L2 scan.
type LocalRepository struct {
	store *badgerhold.Store
	dim   int
}

// OpenLocalRepository opens (or creates) the index in dir. With readOnly the
// directory must already hold an index.
//
// Badger locks the directory for as long as it is open: any number of
// read-only handles, or one writer. The API keeps a read-only handle, so
// the importer can only write while the API is stopped, and new chunks
// become visible after the API restarts. Opening a locked directory fails
// with ErrStoreLocked.
func OpenLocalRepository(dir string, dim int, readOnly bool) (*LocalRepository, error) {
	if readOnly {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("vector store directory %s: %w", dir, err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector store directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.ReadOnly = readOnly
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		if isDirLocked(err) {
			return nil, fmt.Errorf("%w: %s (stop the API before running the importer, then restart it): %v", ErrStoreLocked, dir, err)
		}
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return &LocalRepository{store: store, dim: dim}, nil
}

// Badger has no exported lock error, only this message.
func isDirLocked(err error) bool {
	return strings.Contains(err.Error(), "Cannot acquire directory lock")
}

func (r *LocalRepository) Close() error {
	return r.store.Close()
}

func (r *LocalRepository) InsertChunk(_ context.Context, d *Document, embedding []float32) error {
	if r.dim > 0 && len(embedding) != r.dim {
		return fmt.Errorf("%w: got %d, index uses %d", ErrDimension, len(embedding), r.dim)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	rec := &localRecord{
		ID:        d.ID,
		Content:   d.Content,
		Metadata:  d.Metadata,
		Embedding: embedding,
		CreatedAt: d.CreatedAt,
	}
	if err := r.store.Upsert(rec.ID, rec); err != nil {
		return fmt.Errorf("save chunk %s: %w", d.ID, err)
	}
	return nil
}

func (r *LocalRepository) SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = DefaultTopK
	}

	var records []localRecord
	if err := r.store.Find(&records, nil); err != nil {
		return nil, fmt.Errorf("scan vector store: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type scored struct {
		rec  *localRecord
		dist float64
	}
	hits := make([]scored, 0, len(records))
	for i := range records {
		if len(records[i].Embedding) != len(embedding) {
			continue
		}
		hits = append(hits, scored{rec: &records[i], dist: squaredL2(records[i].Embedding, embedding)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].rec.ID < hits[j].rec.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	docs := make([]Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, Document{
			ID:        h.rec.ID,
			Content:   h.rec.Content,
			Metadata:  h.rec.Metadata,
			CreatedAt: h.rec.CreatedAt,
		})
	}
	return docs, nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

var _ Repository = (*LocalRepository)(nil)
