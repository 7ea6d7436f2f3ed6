package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"radiocatalog/stationstore/internal/auth"
	"radiocatalog/stationstore/internal/blob"
)

// Handler returns the HTTP API. Init must have succeeded.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	// public views read the snapshot only
	mux.HandleFunc("GET /api/stations", a.handleListStations)
	mux.HandleFunc("GET /api/stations/ids", a.handleListIDs)
	mux.HandleFunc("GET /api/stations/{id}", a.handleGetStation)

	mux.Handle("/blob/", blob.NewHandler(a.tier,
		blob.WithPrefix("/blob/"),
		blob.WithWriteToken(a.cfg.Blob.WriteToken),
		blob.WithMaxBytes(a.cfg.Assets.MaxUploadBytes),
		blob.WithHandlerLogger(a.logger),
	))

	editor := func(h http.HandlerFunc) http.Handler { return a.auth.Require(auth.RoleEditor, h) }
	mux.Handle("GET /api/admin/stations", editor(a.handleAdminList))
	mux.Handle("GET /api/admin/stations/{id}", editor(a.handleAdminGet))
	mux.Handle("POST /api/admin/stations", editor(a.handleCreate))
	mux.Handle("PATCH /api/admin/stations/{id}", editor(a.handleUpdate))
	mux.Handle("DELETE /api/admin/stations/{id}", editor(a.handleDelete))
	mux.Handle("POST /api/admin/import", a.auth.Require(auth.RoleAdmin, http.HandlerFunc(a.handleImport)))

	return a.logRequests(mux)
}
