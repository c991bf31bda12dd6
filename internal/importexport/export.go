package importexport

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/vonbase/nexusmem/pkg/memory"
)

// ExportOptions configures a single [Manager.Export] call.
type ExportOptions struct {
	Format Format

	Filter            memory.QueryFilter
	IncludeMetadata   bool
	IncludeEmbeddings bool

	// GDPRCompliant wraps the output in the fixed data_export envelope
	// instead of a bare array.
	GDPRCompliant bool
	UserID        string
	ExportReason  string
}

// pageSize bounds how many records Export fetches from the store per
// Recent call while paginating by created_at.
const pageSize = 500

// Export streams every memory matching opts.Filter to w in opts.Format,
// ordered by descending created_at (stable page-to-page because each page
// requests records strictly before the prior page's oldest timestamp).
// Records are formatted and written one at a time as each page arrives —
// the full result set is never materialized in memory, so an export of a
// long-lived user's entire history stays bounded by the page size.
func (m *Manager) Export(ctx context.Context, w io.Writer, opts ExportOptions) error {
	switch opts.Format {
	case FormatCSV:
		return m.exportCSV(ctx, w, opts)
	case FormatJSON, "":
		return m.exportJSON(ctx, w, opts)
	default:
		return fmt.Errorf("importexport: unsupported export format %q", opts.Format)
	}
}

// scan pages through the store in descending created_at order, invoking fn
// for each record as it is fetched. Returns the total record count.
func (m *Manager) scan(ctx context.Context, opts ExportOptions, fn func(memory.Memory) error) (int, error) {
	total := 0
	filter := opts.Filter
	for {
		page, err := m.store.Recent(ctx, pageSize, filter)
		if err != nil {
			return total, fmt.Errorf("importexport: export scan: %w", err)
		}
		if len(page) == 0 {
			return total, nil
		}
		for _, sm := range page {
			if err := fn(sm.Memory); err != nil {
				return total, err
			}
			total++
		}
		filter.Before = page[len(page)-1].Memory.CreatedAt
		if len(page) < pageSize {
			return total, nil
		}
	}
}

// exportJSON streams a JSON array (or the GDPR envelope around one) by
// writing the structural tokens by hand and encoding one record at a time
// between them. The envelope's count lands after the items, since it is
// only known once the scan completes; JSON object key order carries no
// meaning, so consumers are unaffected.
func (m *Manager) exportJSON(ctx context.Context, w io.Writer, opts ExportOptions) error {
	if opts.GDPRCompliant {
		header, err := json.Marshal(map[string]any{"user_id": opts.UserID})
		if err != nil {
			return err
		}
		exportDate, err := json.Marshal(time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `{"data_export":%s,"export_date":%s,"data_categories":{"memories":{"items":`,
			header, exportDate); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	count, err := m.scan(ctx, opts, func(mem memory.Memory) error {
		row, err := json.Marshal(exportRow(mem, opts))
		if err != nil {
			return err
		}
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false
		_, err = w.Write(row)
		return err
	})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "]"); err != nil {
		return err
	}

	if opts.GDPRCompliant {
		reason, err := json.Marshal(opts.ExportReason)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `,"count":%d}},"metadata":{"export_reason":%s}}`, count, reason); err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func (m *Manager) exportCSV(ctx context.Context, w io.Writer, opts ExportOptions) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "content", "importance_score", "created_at"}
	if opts.IncludeMetadata {
		header = append(header, "metadata")
	}
	if opts.IncludeEmbeddings {
		header = append(header, "embedding")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	_, err := m.scan(ctx, opts, func(mem memory.Memory) error {
		row := []string{
			mem.ID,
			mem.Content,
			strconv.FormatFloat(mem.ImportanceScore, 'f', -1, 64),
			mem.CreatedAt.UTC().Format(time.RFC3339),
		}
		if opts.IncludeMetadata {
			b, err := json.Marshal(mem.Metadata)
			if err != nil {
				return err
			}
			row = append(row, string(b))
		}
		if opts.IncludeEmbeddings {
			b, err := json.Marshal(mem.Embedding)
			if err != nil {
				return err
			}
			row = append(row, string(b))
		}
		return cw.Write(row)
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func exportRow(mem memory.Memory, opts ExportOptions) map[string]any {
	row := map[string]any{
		"id":               mem.ID,
		"content":          mem.Content,
		"importance_score": mem.ImportanceScore,
		"created_at":       mem.CreatedAt.UTC().Format(time.RFC3339),
	}
	if opts.IncludeMetadata {
		row["metadata"] = mem.Metadata
	}
	if opts.IncludeEmbeddings {
		row["embedding"] = mem.Embedding
	}
	return row
}
