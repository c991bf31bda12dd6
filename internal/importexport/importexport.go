// Package importexport implements NexusMem's bulk import/export pipeline:
// streaming CSV/JSON/JSONL ingestion into the unified store with batched,
// bounded-parallelism workers and per-job progress tracking, plus a
// streaming recency-ordered export with an optional GDPR-compliant
// envelope.
package importexport

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vonbase/nexusmem/internal/observe"
	"github.com/vonbase/nexusmem/internal/unifiedstore"
	"github.com/vonbase/nexusmem/pkg/memory"
)

// Format is the closed set of supported import/export payload formats.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// Status is an [ImportJob]'s lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Record is one importable memory, prior to ID assignment and embedding.
type Record struct {
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ImportanceScore float64        `json:"importance_score,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
}

// Options configures a single import run.
type Options struct {
	// Deduplicate routes records through the unified store's deduplicator.
	// When false, records are stored via [unifiedstore.Store.StoreUnchecked],
	// bypassing the duplicate check — used for restores where duplicates are
	// expected and desired.
	Deduplicate bool

	// BatchSize groups records for progress reporting and cancellation
	// checks. Default 100.
	BatchSize int

	// Parallelism bounds concurrent record writes within a batch.
	// Default 8.
	Parallelism int

	Tags     []string
	Source   string
	UserID   string

	// MetadataMapping renames input fields (CSV column names or JSON keys)
	// to metadata keys on the stored [memory.Memory].
	MetadataMapping map[string]string
}

// ImportJob tracks one import run's progress. Safe for concurrent read via
// [Manager.Status]; mutated only by the owning worker goroutine.
type ImportJob struct {
	JobID      string
	Status     Status
	Total      int
	Processed  int
	Succeeded  int
	Failed     int
	Duplicates int
	Errors     []string
	StartedAt  time.Time
	FinishedAt time.Time

	cancel chan struct{}
}

// snapshot returns a copy of j safe to hand to a caller outside the lock.
func (j ImportJob) snapshot() ImportJob {
	j.cancel = nil
	errs := make([]string, len(j.Errors))
	copy(errs, j.Errors)
	j.Errors = errs
	return j
}

// Storer is the subset of [unifiedstore.Store] the import/export pipeline
// depends on.
type Storer interface {
	Store(ctx context.Context, m memory.Memory) (unifiedstore.StoreResult, error)
	StoreUnchecked(ctx context.Context, m memory.Memory) (unifiedstore.StoreResult, error)
	Recent(ctx context.Context, topK int, filter memory.QueryFilter) ([]memory.ScoredMemory, error)
}

// Manager runs import jobs and streams exports against a [Storer].
type Manager struct {
	store   Storer
	metrics *observe.Metrics

	defaultBatchSize   int
	defaultParallelism int

	mu   sync.Mutex
	jobs map[string]*ImportJob
}

// New constructs a Manager backed by store.
func New(store Storer, metrics *observe.Metrics) *Manager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		store:              store,
		metrics:            metrics,
		defaultBatchSize:   100,
		defaultParallelism: 8,
		jobs:               make(map[string]*ImportJob),
	}
}

// WithDefaults overrides the fallback batch size and parallelism applied
// when a job's [Options] leave them zero. Zero arguments keep the built-in
// defaults. Returns m for chaining at construction.
func (m *Manager) WithDefaults(batchSize, parallelism int) *Manager {
	if batchSize > 0 {
		m.defaultBatchSize = batchSize
	}
	if parallelism > 0 {
		m.defaultParallelism = parallelism
	}
	return m
}

// StartImport parses r as format, creates a pending [ImportJob], and
// returns its id immediately. The job transitions to running and then to a
// terminal state (completed/partial/failed/cancelled) in a background
// goroutine.
func (m *Manager) StartImport(ctx context.Context, format Format, r io.Reader, opts Options) (string, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = m.defaultBatchSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = m.defaultParallelism
	}

	records, parseErrs, err := parse(format, r)
	if err != nil {
		return "", fmt.Errorf("importexport: parse: %w", err)
	}

	job := &ImportJob{
		JobID:     uuid.NewString(),
		Status:    StatusPending,
		Total:     len(records) + len(parseErrs),
		Processed: len(parseErrs),
		Failed:    len(parseErrs),
		Errors:    parseErrs,
		cancel:    make(chan struct{}),
	}
	m.mu.Lock()
	m.jobs[job.JobID] = job
	m.mu.Unlock()

	go m.run(context.WithoutCancel(ctx), job, records, opts)

	return job.JobID, nil
}

// Status returns a snapshot of the job's current progress.
func (m *Manager) Status(jobID string) (ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ImportJob{}, fmt.Errorf("importexport: unknown job %q", jobID)
	}
	return job.snapshot(), nil
}

// Cancel requests cancellation of a running job. The worker observes this
// at the next batch boundary.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("importexport: unknown job %q", jobID)
	}
	select {
	case <-job.cancel:
	default:
		close(job.cancel)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, job *ImportJob, records []Record, opts Options) {
	m.setStatus(job, StatusRunning)
	job.StartedAt = time.Now()

	cancelled := false
batches:
	for start := 0; start < len(records); start += opts.BatchSize {
		select {
		case <-job.cancel:
			cancelled = true
			break batches
		default:
		}

		end := start + opts.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batchStart := time.Now()
		m.runBatch(ctx, job, records[start:end], opts)
		m.metrics.ImportBatchDuration.Record(ctx, time.Since(batchStart).Seconds())
	}

	m.mu.Lock()
	job.FinishedAt = time.Now()
	switch {
	case cancelled:
		job.Status = StatusCancelled
	case job.Failed == job.Total && job.Total > 0:
		job.Status = StatusFailed
	case job.Failed > 0:
		job.Status = StatusPartial
	default:
		job.Status = StatusCompleted
	}
	m.mu.Unlock()
}

func (m *Manager) runBatch(ctx context.Context, job *ImportJob, batch []Record, opts Options) {
	var g errgroup.Group
	g.SetLimit(opts.Parallelism)

	var (
		mu                       sync.Mutex
		succeeded, failed, dupes int
		errs                     []string
	)

	storeFn := m.store.Store
	if !opts.Deduplicate {
		storeFn = m.store.StoreUnchecked
	}

	for _, rec := range batch {
		rec := rec
		g.Go(func() error {
			mem := toMemory(rec, opts)
			res, err := storeFn(ctx, mem)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
				errs = append(errs, err.Error())
				m.metrics.RecordImportRecord(ctx, "failed")
			case res.Rejected:
				dupes++
				m.metrics.RecordImportRecord(ctx, "duplicate")
			default:
				succeeded++
				m.metrics.RecordImportRecord(ctx, "succeeded")
			}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	job.Succeeded += succeeded
	job.Failed += failed
	job.Duplicates += dupes
	job.Processed += len(batch)
	job.Errors = append(job.Errors, errs...)
	m.mu.Unlock()
}

func toMemory(rec Record, opts Options) memory.Memory {
	meta := make(map[string]any, len(rec.Metadata)+len(opts.Tags))
	for k, v := range rec.Metadata {
		key := k
		if mapped, ok := opts.MetadataMapping[k]; ok {
			key = mapped
		}
		meta[key] = v
	}
	if len(opts.Tags) > 0 {
		meta["tags"] = opts.Tags
	}
	if opts.Source != "" {
		meta["source"] = opts.Source
	}

	userID := rec.UserID
	if userID == "" {
		userID = opts.UserID
	}

	importance := rec.ImportanceScore
	if importance == 0 {
		importance = 0.5
	}

	return memory.Memory{
		UserID:          userID,
		Content:         rec.Content,
		Metadata:        meta,
		ImportanceScore: importance,
	}
}

func (m *Manager) setStatus(job *ImportJob, status Status) {
	m.mu.Lock()
	job.Status = status
	m.mu.Unlock()
}

// parse dispatches to the format-specific record parser. The returned error
// is reserved for fatal, whole-payload failures (unreadable header, malformed
// top-level structure); a bad individual record is instead reported as an
// entry in the returned parse-error slice so the rest of the payload keeps
// importing.
func parse(format Format, r io.Reader) ([]Record, []string, error) {
	switch format {
	case FormatCSV:
		return parseCSV(r)
	case FormatJSON:
		return parseJSON(r)
	case FormatJSONL:
		return parseJSONL(r)
	default:
		return nil, nil, fmt.Errorf("importexport: unsupported format %q", format)
	}
}

func parseCSV(r io.Reader) ([]Record, []string, error) {
	cr := csv.NewReader(r)
	// Rows may legitimately have fewer/more fields than the header when a
	// caller's export tooling omits trailing optional columns.
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[h] = i
	}

	var records []Record
	var parseErrs []string
	line := 1
	for {
		line++
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErrs = append(parseErrs, fmt.Sprintf("line %d: %s", line, err))
			continue
		}
		rec := Record{}
		if i, ok := colIndex["content"]; ok && i < len(row) {
			rec.Content = row[i]
		}
		if i, ok := colIndex["user_id"]; ok && i < len(row) {
			rec.UserID = row[i]
		}
		if i, ok := colIndex["importance_score"]; ok && i < len(row) && row[i] != "" {
			if v, err := strconv.ParseFloat(row[i], 64); err == nil {
				rec.ImportanceScore = v
			} else {
				parseErrs = append(parseErrs, fmt.Sprintf("line %d: invalid importance_score %q", line, row[i]))
				continue
			}
		}
		if i, ok := colIndex["metadata"]; ok && i < len(row) && row[i] != "" {
			var meta map[string]any
			if err := json.Unmarshal([]byte(row[i]), &meta); err != nil {
				parseErrs = append(parseErrs, fmt.Sprintf("line %d: invalid metadata JSON: %s", line, err))
				continue
			}
			rec.Metadata = meta
		}
		if strings.TrimSpace(rec.Content) == "" {
			parseErrs = append(parseErrs, fmt.Sprintf("line %d: empty content", line))
			continue
		}
		records = append(records, rec)
	}
	return records, parseErrs, nil
}

// parseJSON token-streams [Record] values without buffering the whole
// payload into memory, since import files can be large. A JSON import's
// records live in an array under the top-level "memories" key
// (`{"memories": [...]}`); a bare top-level array is also accepted for
// callers that already have a flat record list.
func parseJSON(r io.Reader) ([]Record, []string, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}

	switch delim, ok := tok.(json.Delim); {
	case ok && delim == '[':
		return decodeRecordArray(dec)
	case ok && delim == '{':
		return decodeMemoriesObject(dec)
	default:
		return nil, nil, fmt.Errorf("importexport: expected a top-level JSON array or object")
	}
}

// decodeMemoriesObject consumes the rest of a top-level JSON object looking
// for the "memories" key, streaming its array value, and skipping any other
// key's value untouched.
func decodeMemoriesObject(dec *json.Decoder) ([]Record, []string, error) {
	var records []Record
	var parseErrs []string
	found := false
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := keyTok.(string)

		if key != "memories" {
			var skip any
			if err := dec.Decode(&skip); err != nil {
				return nil, nil, err
			}
			continue
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		delim, ok := valTok.(json.Delim)
		if !ok || delim != '[' {
			return nil, nil, fmt.Errorf("importexport: \"memories\" must be a JSON array")
		}
		records, parseErrs, err = decodeRecordArray(dec)
		if err != nil {
			return nil, nil, err
		}
		found = true
	}
	if !found {
		return nil, nil, fmt.Errorf("importexport: missing top-level \"memories\" array")
	}
	return records, parseErrs, nil
}

// decodeRecordArray streams [Record] values from dec until the enclosing
// array's closing bracket. Each element is first captured as a raw message so
// a single malformed record is reported as a parse error (with its array
// index standing in for a line number) instead of aborting every record after
// it.
func decodeRecordArray(dec *json.Decoder) ([]Record, []string, error) {
	var records []Record
	var parseErrs []string
	index := 0
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			parseErrs = append(parseErrs, fmt.Sprintf("record %d: %s", index, err))
		} else if strings.TrimSpace(rec.Content) == "" {
			parseErrs = append(parseErrs, fmt.Sprintf("record %d: empty content", index))
		} else {
			records = append(records, rec)
		}
		index++
	}
	// Consume the closing delimiter so a caller object-decode (if any) can
	// continue past it.
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return records, parseErrs, nil
}

func parseJSONL(r io.Reader) ([]Record, []string, error) {
	var records []Record
	var parseErrs []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			parseErrs = append(parseErrs, fmt.Sprintf("line %d: %s", line, err))
			continue
		}
		if strings.TrimSpace(rec.Content) == "" {
			parseErrs = append(parseErrs, fmt.Sprintf("line %d: empty content", line))
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return records, parseErrs, nil
}
