package importexport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonbase/nexusmem/internal/unifiedstore"
	"github.com/vonbase/nexusmem/pkg/memory"
)

type mockStorer struct {
	mu        sync.Mutex
	stored    []memory.Memory
	failOn    string
	delay     time.Duration
	recent    []memory.ScoredMemory
	recentErr error
}

func (s *mockStorer) Store(_ context.Context, m memory.Memory) (unifiedstore.StoreResult, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && m.Content == s.failOn {
		return unifiedstore.StoreResult{}, errors.New("store failed")
	}
	if strings.Contains(m.Content, "dup") {
		return unifiedstore.StoreResult{Memory: m, Rejected: true}, nil
	}
	s.stored = append(s.stored, m)
	return unifiedstore.StoreResult{Memory: m}, nil
}

func (s *mockStorer) StoreUnchecked(ctx context.Context, m memory.Memory) (unifiedstore.StoreResult, error) {
	return s.Store(ctx, m)
}

func (s *mockStorer) Recent(_ context.Context, topK int, filter memory.QueryFilter) ([]memory.ScoredMemory, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	return s.recent, nil
}

func waitForTerminal(t *testing.T, mgr *Manager, jobID string) ImportJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := mgr.Status(jobID)
		require.NoError(t, err)
		switch job.Status {
		case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
			return job
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return ImportJob{}
}

func TestStartImport_JSONLSucceeds(t *testing.T) {
	store := &mockStorer{}
	mgr := New(store, nil)

	payload := `{"content":"alpha"}
{"content":"beta"}
`
	jobID, err := mgr.StartImport(context.Background(), FormatJSONL, strings.NewReader(payload), Options{BatchSize: 1})
	require.NoError(t, err)

	job := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 2, job.Total)
	assert.Equal(t, 2, job.Succeeded)
	assert.Equal(t, 0, job.Failed)
}

func TestStartImport_CountsDuplicatesAndFailures(t *testing.T) {
	store := &mockStorer{failOn: "boom"}
	mgr := New(store, nil)

	payload := `[{"content":"alpha"},{"content":"dup one"},{"content":"boom"}]`
	jobID, err := mgr.StartImport(context.Background(), FormatJSON, strings.NewReader(payload), Options{})
	require.NoError(t, err)

	job := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, StatusPartial, job.Status)
	assert.Equal(t, 1, job.Succeeded)
	assert.Equal(t, 1, job.Duplicates)
	assert.Equal(t, 1, job.Failed)
	assert.Len(t, job.Errors, 1)
}

func TestStartImport_CSVParsesHeaderColumns(t *testing.T) {
	store := &mockStorer{}
	mgr := New(store, nil)

	payload := "content,user_id,importance_score\nhello world,u1,0.8\n"
	jobID, err := mgr.StartImport(context.Background(), FormatCSV, strings.NewReader(payload), Options{})
	require.NoError(t, err)

	job := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	require.Len(t, store.stored, 1)
	assert.Equal(t, "hello world", store.stored[0].Content)
	assert.Equal(t, "u1", store.stored[0].UserID)
	assert.Equal(t, 0.8, store.stored[0].ImportanceScore)
}

func TestCancel_StopsAtNextBatchBoundary(t *testing.T) {
	store := &mockStorer{delay: 50 * time.Millisecond}
	mgr := New(store, nil)

	payload := `[{"content":"a"},{"content":"b"},{"content":"c"},{"content":"d"}]`
	jobID, err := mgr.StartImport(context.Background(), FormatJSON, strings.NewReader(payload), Options{BatchSize: 1})
	require.NoError(t, err)
	require.NoError(t, mgr.Cancel(jobID))

	job := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Less(t, job.Processed, job.Total)
}

func TestStatus_UnknownJobReturnsError(t *testing.T) {
	mgr := New(&mockStorer{}, nil)
	_, err := mgr.Status("does-not-exist")
	assert.Error(t, err)
}

func TestExport_JSONPlainArray(t *testing.T) {
	now := time.Now()
	store := &mockStorer{recent: []memory.ScoredMemory{
		{Memory: memory.Memory{ID: "m1", Content: "hello", CreatedAt: now}},
	}}
	mgr := New(store, nil)

	var buf bytes.Buffer
	err := mgr.Export(context.Background(), &buf, ExportOptions{Format: FormatJSON})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"content":"hello"`)
}

func TestExport_GDPREnvelope(t *testing.T) {
	now := time.Now()
	store := &mockStorer{recent: []memory.ScoredMemory{
		{Memory: memory.Memory{ID: "m1", Content: "hello", CreatedAt: now}},
	}}
	mgr := New(store, nil)

	var buf bytes.Buffer
	err := mgr.Export(context.Background(), &buf, ExportOptions{
		Format:        FormatJSON,
		GDPRCompliant: true,
		UserID:        "u1",
		ExportReason:  "user request",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"data_export"`)
	assert.Contains(t, buf.String(), `"user_id":"u1"`)
	assert.Contains(t, buf.String(), `"export_reason":"user request"`)
	assert.Contains(t, buf.String(), `"count":1`)
	assert.True(t, json.Valid(buf.Bytes()), "GDPR envelope must be valid JSON")
}

func TestExport_CSVIncludesHeader(t *testing.T) {
	now := time.Now()
	store := &mockStorer{recent: []memory.ScoredMemory{
		{Memory: memory.Memory{ID: "m1", Content: "hello", CreatedAt: now}},
	}}
	mgr := New(store, nil)

	var buf bytes.Buffer
	err := mgr.Export(context.Background(), &buf, ExportOptions{Format: FormatCSV})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,content,importance_score,created_at", lines[0])
}
