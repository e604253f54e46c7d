package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/globalid"
	"github.com/hupe1980/globalid/cache"
	"github.com/hupe1980/globalid/topology"
)

// maxBodyBytes bounds /assign_id payloads. A 4096-d float embedding encodes
// well below this.
const maxBodyBytes = 1 << 20

// Handler holds the dependencies of the HTTP endpoints.
type Handler struct {
	engine   *globalid.Engine
	logger   *globalid.Logger
	gatherer prometheus.Gatherer
	now      func() time.Time
}

// NewHandler creates a handler serving engine.
func NewHandler(engine *globalid.Engine, optFns ...Option) *Handler {
	h := &Handler{
		engine: engine,
		logger: globalid.NoopLogger(),
		now:    time.Now,
	}
	for _, fn := range optFns {
		fn(h)
	}
	return h
}

// AssignRequest is the body of POST /assign_id.
type AssignRequest struct {
	CameraID  string    `json:"cam_id"`
	TrackID   string    `json:"track_id"`
	Embedding []float32 `json:"embedding"`
	Timestamp float64   `json:"timestamp"`
	Zone      string    `json:"zone,omitempty"`
}

// AssignResponse is the body returned by POST /assign_id.
type AssignResponse struct {
	GlobalID uint64 `json:"global_id"`
}

// GlobalIDsResponse lists the live mappings.
type GlobalIDsResponse struct {
	Count int            `json:"count"`
	Items []cache.Record `json:"items"`
}

// TrackIDsResponse lists the tracks observed under one global id.
type TrackIDsResponse struct {
	GlobalID uint64   `json:"global_id"`
	TrackIDs []string `json:"track_ids"`
}

// TransitionsResponse lists the outgoing edges of a camera.
type TransitionsResponse struct {
	CameraID    string          `json:"camera_id"`
	Zone        string          `json:"zone"`
	Transitions []topology.Edge `json:"transitions"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Threshold float64 `json:"threshold"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HandleAssign handles POST /assign_id requests.
func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	gid, err := h.engine.Resolve(r.Context(), globalid.Observation{
		CameraID:  req.CameraID,
		TrackID:   req.TrackID,
		Embedding: req.Embedding,
		Timestamp: req.Timestamp,
		Zone:      req.Zone,
	})
	if err != nil {
		status := assignStatus(err)
		if status == http.StatusBadRequest {
			sendError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "global id assignment failed",
			"camera_id", req.CameraID,
			"track_id", req.TrackID,
			"error", err,
		)
		sendError(w, status, fmt.Sprintf("Global ID assignment failed: %v", err))
		return
	}

	sendJSON(w, http.StatusOK, AssignResponse{GlobalID: gid})
}

func assignStatus(err error) int {
	switch {
	case errors.Is(err, globalid.ErrInvalidObservation):
		return http.StatusBadRequest
	case errors.Is(err, globalid.ErrBackendUnavailable), errors.Is(err, globalid.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleGlobalIDs handles GET /api/global_ids requests.
func (h *Handler) HandleGlobalIDs(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.Records(r.Context())
	if err != nil {
		sendError(w, assignStatus(err), err.Error())
		return
	}
	if recs == nil {
		recs = []cache.Record{}
	}
	sendJSON(w, http.StatusOK, GlobalIDsResponse{Count: len(recs), Items: recs})
}

// HandleTrackIDs handles GET /api/track_ids/{global_id} requests.
func (h *Handler) HandleTrackIDs(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["global_id"]
	gid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || gid == 0 {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid global id %q", raw))
		return
	}

	tracks, err := h.engine.TrackHistory(r.Context(), gid)
	if err != nil {
		sendError(w, assignStatus(err), err.Error())
		return
	}
	if tracks == nil {
		tracks = []string{}
	}
	sendJSON(w, http.StatusOK, TrackIDsResponse{GlobalID: gid, TrackIDs: tracks})
}

// HandleZones handles GET /api/zones requests.
func (h *Handler) HandleZones(w http.ResponseWriter, r *http.Request) {
	zones := map[string][]string{}
	if topo := h.engine.Topology(); topo != nil {
		for _, z := range topo.Zones() {
			zones[z] = topo.CamerasInZone(z)
		}
	}
	sendJSON(w, http.StatusOK, zones)
}

// HandleTransitions handles GET /api/transitions/{camera_id} requests.
func (h *Handler) HandleTransitions(w http.ResponseWriter, r *http.Request) {
	cam := mux.Vars(r)["camera_id"]

	topo := h.engine.Topology()
	if topo == nil {
		sendError(w, http.StatusNotFound, "no topology configured")
		return
	}
	zone, ok := topo.ZoneOf(cam)
	if !ok {
		sendError(w, http.StatusNotFound, fmt.Sprintf("camera %q not assigned to any zone", cam))
		return
	}

	sendJSON(w, http.StatusOK, TransitionsResponse{
		CameraID:    cam,
		Zone:        zone,
		Transitions: topo.TransitionsFrom(cam),
	})
}

// HandleHealth handles GET /api/health requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:    "OK",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Threshold: h.engine.Threshold(),
	})
}

// sendJSON sends a JSON response with the given status code.
func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, detail string) {
	sendJSON(w, status, ErrorResponse{Detail: detail})
}
