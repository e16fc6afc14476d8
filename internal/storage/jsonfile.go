package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stage2-screener/internal/model"
)

// JSONFileStore keeps only the latest scan in a JSON document read by the dashboard.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

type jsonDocument struct {
	Run     ScanRun        `json:"run"`
	Results []ResultRecord `json:"results"`
}

// NewJSONFileStore targets path. The directory is created on first save.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

// SaveScan replaces the document atomically, results ordered by status priority.
func (j *JSONFileStore) SaveScan(_ context.Context, run ScanRun, results []model.ScreenResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	ordered := make([]model.ScreenResult, len(results))
	copy(ordered, results)
	model.SortByPriority(ordered)

	doc := jsonDocument{Run: run, Results: make([]ResultRecord, 0, len(ordered))}
	for _, r := range ordered {
		doc.Results = append(doc.Results, NewResultRecord(run.ID, r))
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scan document: %w", err)
	}

	if err := ensureDir(j.path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".scan-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write scan document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close scan document: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		return fmt.Errorf("replace scan document: %w", err)
	}
	return nil
}

func (j *JSONFileStore) load() (jsonDocument, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	payload, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return jsonDocument{}, ErrNoScans
	}
	if err != nil {
		return jsonDocument{}, fmt.Errorf("read scan document: %w", err)
	}
	var doc jsonDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return jsonDocument{}, fmt.Errorf("decode scan document: %w", err)
	}
	return doc, nil
}

func (j *JSONFileStore) LatestScan(context.Context) (ScanRun, []ResultRecord, error) {
	doc, err := j.load()
	if err != nil {
		return ScanRun{}, nil, err
	}
	return doc.Run, doc.Results, nil
}

func (j *JSONFileStore) ListRuns(_ context.Context, limit int) ([]ScanRun, error) {
	doc, err := j.load()
	if errors.Is(err, ErrNoScans) || limit <= 0 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []ScanRun{doc.Run}, nil
}

func (j *JSONFileStore) ListRecentResults(_ context.Context, limit int) ([]ResultRecord, error) {
	doc, err := j.load()
	if errors.Is(err, ErrNoScans) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(doc.Results) > limit {
		return doc.Results[:limit], nil
	}
	return doc.Results, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// Fanout saves to every store and reads from the first one.
type Fanout struct {
	stores []ResultStore
}

// NewFanout builds a fan-out over stores, skipping nils. It returns nil when none remain.
func NewFanout(stores ...ResultStore) *Fanout {
	var keep []ResultStore
	for _, s := range stores {
		if s != nil {
			keep = append(keep, s)
		}
	}
	if len(keep) == 0 {
		return nil
	}
	return &Fanout{stores: keep}
}

func (f *Fanout) SaveScan(ctx context.Context, run ScanRun, results []model.ScreenResult) error {
	var errs []error
	for _, s := range f.stores {
		if err := s.SaveScan(ctx, run, results); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) LatestScan(ctx context.Context) (ScanRun, []ResultRecord, error) {
	return f.stores[0].LatestScan(ctx)
}

func (f *Fanout) ListRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	return f.stores[0].ListRuns(ctx, limit)
}

func (f *Fanout) ListRecentResults(ctx context.Context, limit int) ([]ResultRecord, error) {
	return f.stores[0].ListRecentResults(ctx, limit)
}

var (
	_ ResultStore = (*JSONFileStore)(nil)
	_ ResultStore = (*Fanout)(nil)
)
