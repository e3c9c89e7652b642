package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kaikoh95/klaw-craft/internal/bots"
	"github.com/kaikoh95/klaw-craft/internal/minimap"
	"github.com/kaikoh95/klaw-craft/internal/protocol"
)

const (
	defaultMapRadius = 32
	defaultMapCell   = 4
	maxMapCell       = 16
	mapTimeout       = 2 * time.Second
)

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.GetSnapshot()
	writeJSON(w, map[string]interface{}{
		"sequence":  snap.Sequence,
		"timestamp": snap.Timestamp,
		"digest":    fmt.Sprintf("%016x", snap.Digest),
		"avatars":   snap.Avatars,
	})
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	// Lock-free snapshot; never touches the engine loop
	snap := h.engine.GetSnapshot()
	stats := map[string]interface{}{
		"players":     snap.Players,
		"bots":        snap.Bots,
		"connections": snap.Connections,
		"voxels":      snap.Voxels,
		"digest":      fmt.Sprintf("%016x", snap.Digest),
		"generated":   snap.Generated,
		"mutations":   snap.Mutations,
		"dropped":     snap.Dropped,
		"eventLog":    h.engine.GetEventLogStats(),
	}
	if h.extraStats != nil {
		for k, v := range h.extraStats() {
			stats[k] = v
		}
	}
	writeJSON(w, stats)
}

// handleMap renders a top-down PNG around ?x=&z= with ?radius= and ?cell=.
func (h *routerHandlers) handleMap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, err1 := intParam(q.Get("x"), 0)
	z, err2 := intParam(q.Get("z"), 0)
	radius, err3 := intParam(q.Get("radius"), defaultMapRadius)
	cell, err4 := intParam(q.Get("cell"), defaultMapCell)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		writeError(w, "x, z, radius and cell must be numbers below 10000 in magnitude", http.StatusBadRequest)
		return
	}
	cell = min(max(cell, 1), maxMapCell)

	snap := h.engine.GetSnapshot()
	markers := make([]minimap.Marker, 0, len(snap.Avatars))
	for _, a := range snap.Avatars {
		markers = append(markers, minimap.Marker{X: a.Position.X, Z: a.Position.Z, Bot: a.Bot})
	}

	ctx, cancel := context.WithTimeout(r.Context(), mapTimeout)
	defer cancel()

	var m minimap.Map
	err := h.engine.Exec(ctx, func(host bots.Host) {
		m = minimap.Capture(host.World(), x, z, radius, markers)
	})
	if err != nil {
		writeError(w, "World unavailable", http.StatusServiceUnavailable)
		return
	}

	// Render off the engine goroutine
	var buf bytes.Buffer
	if err := m.WritePNG(&buf, cell); err != nil {
		log.Printf("⚠️ Map render failed: %v", err)
		writeError(w, "Render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.Abs(f) >= protocol.MaxCoordMagnitude {
		return 0, fmt.Errorf("out of range: %q", s)
	}
	return int(math.Floor(f)), nil
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
