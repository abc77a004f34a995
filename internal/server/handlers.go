package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/byebiz/layerone/internal/model"
	"github.com/byebiz/layerone/internal/stage"
	"github.com/byebiz/layerone/internal/store"
)

// documentLabels lists the accepted multipart field names in upload order.
// The first two are required, add_backs is optional.
var documentLabels = []struct {
	name     string
	required bool
}{
	{"pnl", true},
	{"balance_sheet", true},
	{"add_backs", false},
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var intake model.Intake
	if err := json.NewDecoder(r.Body).Decode(&intake); err != nil {
		writeError(w, &model.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if err := intake.Validate(); err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.store.CreateRecord(r.Context(), intake)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.dispatch.Dispatch(stage.NameOSINT, stage.Request{
		RecordID:    rec.ID,
		CompanyName: rec.Intake.CompanyName,
		City:        rec.Intake.City,
	}); err != nil {
		// The record exists either way; the stage can be re-triggered.
		zap.L().Error("dispatch osint stage", zap.String("record_id", rec.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter := store.RecordFilter{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := model.Status(v)
		if !status.Valid() {
			writeError(w, &model.ValidationError{Field: "status", Reason: "unknown status"})
			return
		}
		filter.Status = status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, &model.ValidationError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, &model.ValidationError{Field: "offset", Reason: "must be a non-negative integer"})
			return
		}
		filter.Offset = n
	}

	records, err := s.store.ListRecords(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

type uploadedDocument struct {
	label    string
	filename string
	data     []byte
}

// handleUploadDocuments validates the whole batch before any blob write, so a
// rejected upload leaves no partial document set behind. Only records whose
// background check is complete accept financial documents.
func (s *Server) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.Status != model.StatusOSINTVerified {
		writeError(w, model.ErrConflict)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, &model.ValidationError{Field: "body", Reason: "invalid multipart form"})
		return
	}

	var docs []uploadedDocument
	for _, label := range documentLabels {
		headers := r.MultipartForm.File[label.name]
		if len(headers) == 0 {
			if label.required {
				writeError(w, &model.ValidationError{Field: label.name, Reason: "required"})
				return
			}
			continue
		}

		f, err := headers[0].Open()
		if err != nil {
			writeError(w, &model.ValidationError{Field: label.name, Reason: "unreadable file"})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, &model.ValidationError{Field: label.name, Reason: "unreadable file"})
			return
		}
		if len(data) == 0 {
			writeError(w, &model.ValidationError{Field: label.name, Reason: "empty file"})
			return
		}
		docs = append(docs, uploadedDocument{label: label.name, filename: headers[0].Filename, data: data})
	}

	paths := make([]string, 0, len(docs))
	for _, doc := range docs {
		p, err := s.blobs.Put(ctx, id, doc.label, doc.filename, doc.data)
		if err != nil {
			writeError(w, &model.StorageError{Op: fmt.Sprintf("store document %s", doc.label), Err: err})
			return
		}
		paths = append(paths, p)
	}

	rec, err = s.store.ApplyPatch(ctx, id,
		model.AdvancePatch(model.StatusOSINTVerified, model.StatusProcessingFinancials))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.dispatch.Dispatch(stage.NameFinancial, stage.Request{
		RecordID:      id,
		DocumentPaths: paths,
	}); err != nil {
		zap.L().Error("dispatch financial stage", zap.String("record_id", id), zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"record":    rec,
		"documents": paths,
	})
}

type retriggerRequest struct {
	Stage string `json:"stage"`
}

// handleRetrigger re-dispatches a stage for a record whose earlier run was
// lost. The stage's own status precondition makes a redundant re-trigger
// harmless, but re-triggering a stage that cannot run is rejected up front.
func (s *Server) handleRetrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req retriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &model.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	switch req.Stage {
	case stage.NameOSINT:
		if rec.Status != model.StatusPendingOSINT {
			writeError(w, model.ErrConflict)
			return
		}
		err = s.dispatch.Dispatch(stage.NameOSINT, stage.Request{
			RecordID:    id,
			CompanyName: rec.Intake.CompanyName,
			City:        rec.Intake.City,
		})
	case stage.NameFinancial:
		if rec.Status != model.StatusProcessingFinancials {
			writeError(w, model.ErrConflict)
			return
		}
		// No explicit paths: the stage re-lists the record's documents.
		err = s.dispatch.Dispatch(stage.NameFinancial, stage.Request{RecordID: id})
	default:
		writeError(w, &model.ValidationError{Field: "stage", Reason: "must be osint or financial"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"stage":  req.Stage,
		"record": id,
	})
}

// handleEvents streams record snapshots as server-sent events. The first
// event is always the current snapshot, so a subscriber that connects after
// a stage completed still sees its fields.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	sub, err := s.bus.Subscribe(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case rec, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				zap.L().Warn("marshal event", zap.String("record_id", id), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
