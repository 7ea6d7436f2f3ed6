package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"radiocatalog/stationstore/internal/auth"
	"radiocatalog/stationstore/internal/model"
	"radiocatalog/stationstore/internal/stations"
)

const (
	readTimeout     = 5 * time.Second
	mutationTimeout = 30 * time.Second
	multipartMemory = 8 << 20
)

var errImageTooLarge = errors.New("image exceeds upload limit")

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleListStations(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.reader.ListActive())
}

func (a *App) handleListIDs(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.reader.ListIDs())
}

func (a *App) handleGetStation(w http.ResponseWriter, r *http.Request) {
	st, ok := a.reader.GetByID(r.PathValue("id"))
	if !ok {
		http.Error(w, "station not found", http.StatusNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *App) handleAdminList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	list := a.service.List(ctx)
	if r.URL.Query().Get("active") == "true" {
		list = model.ActiveOnly(list)
	}
	a.writeJSON(w, http.StatusOK, list)
}

func (a *App) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	st, ok := a.service.Get(ctx, r.PathValue("id"))
	if !ok {
		http.Error(w, "station not found", http.StatusNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *App) handleCreate(w http.ResponseWriter, r *http.Request) {
	patch, image, err := a.readMutation(w, r)
	if err != nil {
		a.writeBadRequest(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), mutationTimeout)
	defer cancel()
	res := a.service.Create(ctx, patch, image)
	a.audit(r, "create", res.ID, res)
	a.writeResult(w, res)
}

func (a *App) handleUpdate(w http.ResponseWriter, r *http.Request) {
	patch, image, err := a.readMutation(w, r)
	if err != nil {
		a.writeBadRequest(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), mutationTimeout)
	defer cancel()
	id := r.PathValue("id")
	res := a.service.Update(ctx, id, patch, image)
	a.audit(r, "update", id, res)
	a.writeResult(w, res)
}

func (a *App) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), mutationTimeout)
	defer cancel()
	id := r.PathValue("id")
	res := a.service.SoftDelete(ctx, id)
	a.audit(r, "delete", id, res)
	a.writeResult(w, res)
}

func (a *App) handleImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirm string `json:"confirm"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&body); err != nil {
		a.writeBadRequest(w, fmt.Errorf("decode body: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), mutationTimeout)
	defer cancel()

	res := a.service.ImportSnapshot(ctx, body.Confirm)
	a.audit(r, "import", "", res)
	a.writeResult(w, res)
}

// audit records who ran a mutation and how it ended. A successful import
// replaces every edit, so it is logged at warn.
func (a *App) audit(r *http.Request, op, id string, res stations.Result) {
	ctx := r.Context()
	attrs := []any{
		"op", op,
		"subject", auth.SubjectFromContext(ctx),
		"role", string(auth.RoleFromContext(ctx)),
		"success", res.Success,
		"remote_addr", r.RemoteAddr,
	}
	if id != "" {
		attrs = append(attrs, "station", id)
	}
	if res.Count > 0 {
		attrs = append(attrs, "count", res.Count)
	}
	if res.Error != "" {
		attrs = append(attrs, "error", res.Error)
	}

	level := slog.LevelInfo
	if op == "import" && res.Success {
		level = slog.LevelWarn
	}
	a.logger.Log(ctx, level, "admin mutation", attrs...)
}

// readMutation accepts either a JSON object body or a multipart form with a
// JSON "data" field and an optional "image" file.
func (a *App) readMutation(w http.ResponseWriter, r *http.Request) (model.Patch, []byte, error) {
	limit := a.cfg.Assets.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("read body: %w", err)
		}
		patch, err := decodePatch(raw)
		return patch, nil, err
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, nil, fmt.Errorf("parse form: %w", err)
	}
	patch, err := decodePatch([]byte(r.FormValue("data")))
	if err != nil {
		return nil, nil, err
	}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return patch, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read image: %w", err)
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(image)) > limit {
		return nil, nil, errImageTooLarge
	}
	return patch, image, nil
}

func decodePatch(raw []byte) (model.Patch, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return model.Patch{}, nil
	}
	var patch model.Patch
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, fmt.Errorf("station data must be a JSON object: %w", err)
	}
	if patch == nil {
		patch = model.Patch{}
	}
	return patch, nil
}

func statusFor(res stations.Result) int {
	switch res.Code {
	case stations.CodeOK:
		return http.StatusOK
	case stations.CodeNotFound:
		return http.StatusNotFound
	case stations.CodeConflict:
		return http.StatusConflict
	case stations.CodeInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) writeResult(w http.ResponseWriter, res stations.Result) {
	a.writeJSON(w, statusFor(res), res)
}

func (a *App) writeBadRequest(w http.ResponseWriter, err error) {
	a.writeJSON(w, http.StatusBadRequest, stations.Result{Success: false, Error: err.Error()})
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}
