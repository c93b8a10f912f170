package kbapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tenetgraph/tenet/engine"
	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/export"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// RegisterHTTPHandlers registers all kb-api HTTP handlers under the given prefix.
// The prefix should be the path segment without a trailing slash (e.g. "api/kb").
// Handlers are registered as:
//
//	GET  <prefix>/principles          list live principles
//	POST <prefix>/principles          create a principle
//	GET  <prefix>/features            list live features
//	POST <prefix>/features            create a feature
//	POST <prefix>/edit                edit a record at an expected version
//	POST <prefix>/transition          move a record along its lattice
//	POST <prefix>/deprecate           deprecate a principle with a reason
//	POST <prefix>/supersede           replace a principle
//	POST <prefix>/merge               merge principles into one
//	POST <prefix>/split               split a principle into parts
//	GET  <prefix>/record?id=          fetch a record (latest or ?version=)
//	GET  <prefix>/history?id=         full version history
//	GET  <prefix>/neighbors?id=       incoming and outgoing references
//	GET  <prefix>/flag?id=            open stale flag, if any
//	GET  <prefix>/gate                pending gate items, oldest first
//	POST <prefix>/resolve             apply a reviewer decision
//	GET  <prefix>/snapshot            export (?format=&profile=&project=)
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	// Normalise: ensure leading slash and trailing slash.
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"principles", c.handlePrinciples)
	mux.HandleFunc(prefix+"features", c.handleFeatures)
	mux.HandleFunc(prefix+"edit", c.handleEdit)
	mux.HandleFunc(prefix+"transition", c.handleTransition)
	mux.HandleFunc(prefix+"deprecate", c.handleDeprecate)
	mux.HandleFunc(prefix+"supersede", c.handleSupersede)
	mux.HandleFunc(prefix+"merge", c.handleMerge)
	mux.HandleFunc(prefix+"split", c.handleSplit)
	mux.HandleFunc(prefix+"record", c.handleRecord)
	mux.HandleFunc(prefix+"history", c.handleHistory)
	mux.HandleFunc(prefix+"neighbors", c.handleNeighbors)
	mux.HandleFunc(prefix+"flag", c.handleFlag)
	mux.HandleFunc(prefix+"gate", c.handleGate)
	mux.HandleFunc(prefix+"resolve", c.handleResolve)
	mux.HandleFunc(prefix+"snapshot", c.handleSnapshot)
}

func (c *Component) markActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// ----------------------------------------------------------------------------
// Principles and features
// ----------------------------------------------------------------------------

func (c *Component) handlePrinciples(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		principles, err := c.engine.Store().ListPrinciples(r.Context())
		if err != nil {
			c.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, principles)
	case http.MethodPost:
		var p entity.Principle
		if !c.readBody(w, r, &p) {
			return
		}
		created, err := c.engine.CreatePrinciple(r.Context(), &p)
		if err != nil {
			c.writeError(w, err)
			return
		}
		c.writesProcessed.Add(1)
		c.markActivity()
		c.publishGraph(r.Context(), created)
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *Component) handleFeatures(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		features, err := c.engine.Store().ListFeatures(r.Context())
		if err != nil {
			c.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, features)
	case http.MethodPost:
		var f entity.Feature
		if !c.readBody(w, r, &f) {
			return
		}
		created, err := c.engine.CreateFeature(r.Context(), &f)
		if err != nil {
			c.writeError(w, err)
			return
		}
		c.writesProcessed.Add(1)
		c.markActivity()
		c.publishGraph(r.Context(), created)
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ----------------------------------------------------------------------------
// Edits and lifecycle
// ----------------------------------------------------------------------------

// EditRequest is the request body for POST /edit. Exactly one of
// Principle or Feature carries the full updated record.
type EditRequest struct {
	Principle       *entity.Principle `json:"principle,omitempty"`
	Feature         *entity.Feature   `json:"feature,omitempty"`
	ExpectedVersion int               `json:"expected_version"`
}

func (c *Component) handleEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req EditRequest
	if !c.readBody(w, r, &req) {
		return
	}

	var (
		rec entity.Record
		err error
	)
	switch {
	case req.Principle != nil && req.Feature == nil:
		rec, err = c.engine.EditPrinciple(r.Context(), req.Principle, req.ExpectedVersion)
	case req.Feature != nil && req.Principle == nil:
		rec, err = c.engine.EditFeature(r.Context(), req.Feature, req.ExpectedVersion)
	default:
		http.Error(w, "Exactly one of principle or feature is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writesProcessed.Add(1)
	c.markActivity()
	c.publishGraph(r.Context(), rec)
	writeJSON(w, http.StatusOK, rec)
}

// TransitionRequest is the request body for POST /transition.
type TransitionRequest struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ExpectedVersion int    `json:"expected_version"`
}

func (c *Component) handleTransition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req TransitionRequest
	if !c.readBody(w, r, &req) {
		return
	}
	rec, err := c.engine.Transition(r.Context(), req.ID, req.Status, req.ExpectedVersion)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writesProcessed.Add(1)
	c.markActivity()
	c.publishGraph(r.Context(), rec)
	writeJSON(w, http.StatusOK, rec)
}

// DeprecateRequest is the request body for POST /deprecate.
type DeprecateRequest struct {
	ID              string `json:"id"`
	Reason          string `json:"reason"`
	ExpectedVersion int    `json:"expected_version"`
}

func (c *Component) handleDeprecate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req DeprecateRequest
	if !c.readBody(w, r, &req) {
		return
	}
	p, err := c.engine.Deprecate(r.Context(), req.ID, req.Reason, req.ExpectedVersion)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writesProcessed.Add(1)
	c.markActivity()
	c.publishGraph(r.Context(), p)
	writeJSON(w, http.StatusOK, p)
}

// SupersedeRequest is the request body for POST /supersede.
type SupersedeRequest struct {
	ID              string            `json:"id"`
	Replacement     *entity.Principle `json:"replacement"`
	ExpectedVersion int               `json:"expected_version"`
}

func (c *Component) handleSupersede(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SupersedeRequest
	if !c.readBody(w, r, &req) {
		return
	}
	if req.Replacement == nil {
		http.Error(w, "Replacement principle is required", http.StatusBadRequest)
		return
	}
	repl, err := c.engine.Supersede(r.Context(), req.ID, req.Replacement, req.ExpectedVersion)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writesProcessed.Add(1)
	c.markActivity()
	c.publishGraph(r.Context(), repl)
	writeJSON(w, http.StatusOK, repl)
}

// MergeRequest is the request body for POST /merge.
type MergeRequest struct {
	SourceIDs        []string          `json:"source_ids"`
	Merged           *entity.Principle `json:"merged"`
	ExpectedVersions map[string]int    `json:"expected_versions"`
}

func (c *Component) handleMerge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req MergeRequest
	if !c.readBody(w, r, &req) {
		return
	}
	if req.Merged == nil {
		http.Error(w, "Merged principle is required", http.StatusBadRequest)
		return
	}
	merged, err := c.engine.MergePrinciples(r.Context(), req.SourceIDs, req.Merged, req.ExpectedVersions)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writesProcessed.Add(1)
	c.markActivity()
	c.publishGraph(r.Context(), merged)
	writeJSON(w, http.StatusOK, merged)
}

// SplitRequest is the request body for POST /split.
type SplitRequest struct {
	SourceID        string              `json:"source_id"`
	Parts           []*entity.Principle `json:"parts"`
	ExpectedVersion int                 `json:"expected_version"`
}

func (c *Component) handleSplit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SplitRequest
	if !c.readBody(w, r, &req) {
		return
	}
	parts, err := c.engine.SplitPrinciple(r.Context(), req.SourceID, req.Parts, req.ExpectedVersion)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writesProcessed.Add(1)
	c.markActivity()
	for _, p := range parts {
		c.publishGraph(r.Context(), p)
	}
	writeJSON(w, http.StatusOK, parts)
}

// ----------------------------------------------------------------------------
// Reads
// ----------------------------------------------------------------------------

func (c *Component) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}

	if v := r.URL.Query().Get("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "version must be an integer", http.StatusBadRequest)
			return
		}
		rec, err := c.recordVersion(r, id, version)
		if err != nil {
			c.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	rec, err := c.engine.Store().Get(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (c *Component) recordVersion(r *http.Request, id string, version int) (entity.Record, error) {
	parsed, err := entity.ParseID(id)
	if err != nil {
		return nil, err
	}
	if parsed.Kind == entity.KindFeature {
		return c.engine.Store().GetFeatureVersion(r.Context(), id, version)
	}
	return c.engine.Store().GetPrincipleVersion(r.Context(), id, version)
}

func (c *Component) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}
	history, err := c.engine.History(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (c *Component) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}
	hood, err := c.engine.Neighbors(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hood)
}

func (c *Component) handleFlag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}
	flag, err := c.engine.Flag(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

// ----------------------------------------------------------------------------
// Gate review
// ----------------------------------------------------------------------------

func (c *Component) handleGate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items, err := c.engine.PendingGate(r.Context())
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// ResolveRequest is the request body for POST /resolve.
type ResolveRequest struct {
	EntityID string          `json:"entity_id"`
	Decision engine.Decision `json:"decision"`
}

func (c *Component) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ResolveRequest
	if !c.readBody(w, r, &req) {
		return
	}
	if req.EntityID == "" {
		http.Error(w, "entity_id is required", http.StatusBadRequest)
		return
	}
	if err := c.engine.ResolveGate(r.Context(), req.EntityID, req.Decision); err != nil {
		c.writeError(w, err)
		return
	}
	c.writesProcessed.Add(1)
	c.markActivity()
	w.WriteHeader(http.StatusNoContent)
}

// ----------------------------------------------------------------------------
// Snapshot export
// ----------------------------------------------------------------------------

func (c *Component) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	opts := export.Options{
		Format:  export.Format(r.URL.Query().Get("format")),
		Profile: export.Profile(r.URL.Query().Get("profile")),
		Project: r.URL.Query().Get("project"),
	}
	if opts.Format == "" {
		opts.Format = export.FormatJSON
	}
	if !export.ValidFormat(opts.Format) {
		http.Error(w, "Unknown format", http.StatusBadRequest)
		return
	}
	if opts.Profile != "" && !export.ValidProfile(opts.Profile) {
		http.Error(w, "Unknown profile", http.StatusBadRequest)
		return
	}

	info, _ := export.GetFormatInfo(opts.Format)
	w.Header().Set("Content-Type", info.MIMEType)
	if err := c.snapshotter.Export(r.Context(), w, opts); err != nil {
		c.logger.Error("Snapshot export failed", "error", err)
		http.Error(w, "Export failed", http.StatusInternalServerError)
	}
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// readBody decodes a JSON request body into v, writing an HTTP error and
// returning false on failure.
func (c *Component) readBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps engine errors onto HTTP status codes.
func (c *Component) writeError(w http.ResponseWriter, err error) {
	c.errorsCount.Add(1)

	var (
		conflict   *entity.ConflictError
		transition *entity.IllegalTransitionError
		dangling   *entity.DanglingReferenceError
	)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &conflict):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":    conflict.Error(),
			"expected": conflict.Expected,
			"actual":   conflict.Actual,
		})
	case errors.As(err, &transition):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &dangling):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing to recover.
		_ = err
	}
}
