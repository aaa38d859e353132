package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/motorlink/motorlink/pkg/protocol"
)

// Timeout for store access from a REST handler.
const restTimeout = 5 * time.Second

// statusResponse is the GET /status payload.
type statusResponse struct {
	LastUpdated     time.Time `json:"lastUpdated"`
	Voltage         float64   `json:"voltage"`
	Current         float64   `json:"current"`
	Power           float64   `json:"power"`
	MotorA          bool      `json:"motorA"`
	MotorB          bool      `json:"motorB"`
	DeviceConnected bool      `json:"deviceConnected"`
}

// motorRequest is the optional POST /motor/{id} body. Without a body
// the motor is toggled from its stored state.
type motorRequest struct {
	State *bool `json:"state"`
}

// motorResponse is the POST /motor/{id} payload.
type motorResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// healthResponse is the GET /health payload.
type healthResponse struct {
	Status           string `json:"status"`
	Uptime           int64  `json:"uptime"`
	ObserverCount    int    `json:"observerCount"`
	StorageConnected bool   `json:"storageConnected"`
	DeviceConnected  bool   `json:"deviceConnected"`
}

// handleStatus serves the last known snapshot plus device liveness.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling status request")

	ctx, cancel := context.WithTimeout(r.Context(), restTimeout)
	defer cancel()

	snap, err := s.store.Read(ctx)
	if err != nil {
		s.logger.Error("failed to read state", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, motorResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{
		MotorA:          snap.MotorA,
		MotorB:          snap.MotorB,
		Voltage:         snap.Voltage,
		Current:         snap.Current,
		Power:           snap.Power,
		LastUpdated:     snap.LastUpdated,
		DeviceConnected: s.hub.Registry().DeviceConnected(),
	})
}

// handleMotor switches or toggles a motor through the same delivery
// path as a websocket motor_control frame.
func (s *Server) handleMotor(w http.ResponseWriter, r *http.Request) {
	motor := r.PathValue("id")
	s.logger.Debug("handling motor request", "motor", motor)

	if !protocol.ValidMotor(motor) {
		s.writeJSON(w, http.StatusBadRequest, motorResponse{
			Success: false,
			Message: "invalid motor id",
		})
		return
	}

	var req motorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, motorResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	var target bool
	if req.State != nil {
		target = *req.State
	} else {
		// No explicit state: toggle from the stored snapshot.
		ctx, cancel := context.WithTimeout(r.Context(), restTimeout)
		snap, err := s.store.Read(ctx)
		cancel()
		if err != nil {
			s.logger.Error("failed to read state for toggle", "error", err)
			s.writeJSON(w, http.StatusInternalServerError, motorResponse{
				Success: false,
				Message: err.Error(),
			})
			return
		}
		switch motor {
		case protocol.MotorA:
			target = !snap.MotorA
		case protocol.MotorB:
			target = !snap.MotorB
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), restTimeout)
	defer cancel()

	err := s.hub.SubmitCommand(ctx, motor, target)
	if errors.Is(err, ErrDeviceNotConnected) {
		s.writeJSON(w, http.StatusServiceUnavailable, motorResponse{
			Success: false,
			Message: "device not connected",
		})
		return
	}
	if err != nil {
		s.logger.Error("failed to submit motor command", "motor", motor, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, motorResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	state := "off"
	if target {
		state = "on"
	}
	s.writeJSON(w, http.StatusOK, motorResponse{
		Success: true,
		Message: fmt.Sprintf("motor %s switched %s", motor, state),
	})
}

// handleHealth serves the liveness summary.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), restTimeout)
	defer cancel()

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:           "OK",
		Uptime:           int64(time.Since(s.startedAt).Seconds()),
		StorageConnected: s.store.Ping(ctx) == nil,
		DeviceConnected:  s.hub.Registry().DeviceConnected(),
		ObserverCount:    s.hub.Registry().ObserverCount(),
	})
}

// writeJSON writes v as the response body with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests per route pattern. The websocket route is
// never wrapped: the recorder does not implement http.Hijacker, which
// the upgrade needs.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		s.metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(rec.status),
		).Inc()
	}
}
