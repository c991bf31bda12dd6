package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vonbase/nexusmem/internal/apierr"
	"github.com/vonbase/nexusmem/internal/importexport"
	"github.com/vonbase/nexusmem/pkg/memory"
)

// maxImportUpload bounds the multipart form NexusMem buffers in memory
// before spilling the file part to a temp file.
const maxImportUpload = 32 << 20

// importRequest is the JSON body of POST /api/v1/memories/import: the
// payload travels base64-encoded in "data", with per-run options inline.
type importRequest struct {
	Format string `json:"format" validate:"required,oneof=csv json jsonl"`
	Data   string `json:"data" validate:"required"`

	Options struct {
		Deduplicate     *bool             `json:"deduplicate,omitempty"`
		BatchSize       int               `json:"batch_size,omitempty"`
		Tags            []string          `json:"tags,omitempty"`
		Source          string            `json:"source,omitempty"`
		UserID          string            `json:"user_id,omitempty"`
		MetadataMapping map[string]string `json:"metadata_mapping,omitempty"`
	} `json:"options,omitempty"`
}

// handleStartImport accepts either a JSON body carrying a base64 payload or
// a multipart form with a "file" part, whichever the caller finds easier to
// produce.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var (
		format importexport.Format
		src    io.Reader
		opts   importexport.Options
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req importRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "decode request body"))
			return
		}
		if err := s.validate.Struct(req); err != nil {
			respondValidationError(w, err)
			return
		}
		payload, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "decode base64 data"))
			return
		}
		format = importexport.Format(req.Format)
		src = bytes.NewReader(payload)
		opts = importexport.Options{
			Deduplicate:     req.Options.Deduplicate == nil || *req.Options.Deduplicate,
			BatchSize:       req.Options.BatchSize,
			Tags:            req.Options.Tags,
			Source:          req.Options.Source,
			UserID:          req.Options.UserID,
			MetadataMapping: req.Options.MetadataMapping,
		}
	} else {
		if err := r.ParseMultipartForm(maxImportUpload); err != nil {
			respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "parse multipart form"))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "missing \"file\" form field"))
			return
		}
		defer file.Close()

		format = importexport.Format(r.FormValue("format"))
		if format == "" {
			format = formatFromFilename(header)
		}
		src = file

		opts = importexport.Options{
			Deduplicate: r.FormValue("deduplicate") != "false",
			UserID:      r.FormValue("user_id"),
			Source:      r.FormValue("source"),
		}
		if v := r.FormValue("batch_size"); v != "" {
			opts.BatchSize, _ = strconv.Atoi(v)
		}
		if v := r.FormValue("tags"); v != "" {
			opts.Tags = strings.Split(v, ",")
		}
		if v := r.FormValue("metadata_mapping"); v != "" {
			if err := json.Unmarshal([]byte(v), &opts.MetadataMapping); err != nil {
				respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "parse metadata_mapping"))
				return
			}
		}
	}

	jobID, err := s.importer.StartImport(r.Context(), format, src, opts)
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "start import"))
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"import_id": jobID})
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.importer.Cancel(jobID); err != nil {
		respondError(w, r, apierr.Wrap(apierr.NotFound, err, "import job %q", jobID))
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "status": "cancelling"})
}

func formatFromFilename(header *multipart.FileHeader) importexport.Format {
	name := header.Filename
	switch {
	case len(name) > 6 && name[len(name)-6:] == ".jsonl":
		return importexport.FormatJSONL
	case len(name) > 4 && name[len(name)-4:] == ".csv":
		return importexport.FormatCSV
	default:
		return importexport.FormatJSON
	}
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.importer.Status(jobID)
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.NotFound, err, "import job %q", jobID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"job_id":     job.JobID,
		"status":     string(job.Status),
		"total":      job.Total,
		"processed":  job.Processed,
		"succeeded":  job.Succeeded,
		"failed":     job.Failed,
		"duplicates": job.Duplicates,
		"errors":     job.Errors,
	})
}

// exportRequest is the body of POST /api/v1/memories/export.
type exportRequest struct {
	Format            importexport.Format `json:"format,omitempty"`
	UserID            string               `json:"user_id,omitempty"`
	IncludeMetadata   bool                 `json:"include_metadata,omitempty"`
	IncludeEmbeddings bool                 `json:"include_embeddings,omitempty"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "decode request body"))
		return
	}
	if req.Format == "" {
		req.Format = importexport.FormatJSON
	}

	switch req.Format {
	case importexport.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/json")
	}

	err := s.importer.Export(r.Context(), w, importexport.ExportOptions{
		Format:            req.Format,
		Filter:            memory.QueryFilter{UserID: req.UserID},
		IncludeMetadata:   req.IncludeMetadata,
		IncludeEmbeddings: req.IncludeEmbeddings,
	})
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.InternalError, err, "export"))
		return
	}
}

func (s *Server) handleGDPRExport(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	w.Header().Set("Content-Type", "application/json")
	err := s.importer.Export(r.Context(), w, importexport.ExportOptions{
		Format:          importexport.FormatJSON,
		Filter:          memory.QueryFilter{UserID: userID},
		IncludeMetadata: true,
		GDPRCompliant:   true,
		UserID:          userID,
		ExportReason:    "gdpr_subject_access_request",
	})
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.InternalError, err, "gdpr export"))
		return
	}
}
