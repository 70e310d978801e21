package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/store"
)

// simulateRequest is the payload of POST /api/v1/messages.
type simulateRequest struct {
	From    string            `json:"from"`
	Body    string            `json:"body"`
	Context map[string]string `json:"context,omitempty"`
}

// trainingRequest is the payload of the training and learn endpoints.
type trainingRequest struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	Approved bool   `json:"approved"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"status": "up",
		"uptime": time.Since(s.started).String(),
	}))
}

// simulateHandler runs one message through the decision engine and returns
// the raw flow result. Used by the dashboard and integration tests.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.simulateHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.From == "" || req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: from, body"))
		return
	}

	result := s.flowEngine.ProcessMessage(r.Context(), req.From, req.Body, req.Context)
	slog.Info("Server.simulateHandler: message processed", "from", req.From, "action", result.Action, "continue", result.Continue)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) listTrainingHandler(w http.ResponseWriter, r *http.Request) {
	examples, err := s.st.GetAllTrainingData()
	if err != nil {
		slog.Error("Server.listTrainingHandler: failed to load training data", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load training data"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(examples))
}

// createTrainingHandler adds a curated training example. Unless the request
// says otherwise, examples created here are approved and enter the live
// corpus immediately.
func (s *Server) createTrainingHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req trainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.Approved = true
	s.learn(w, r, req)
}

// learnHandler accepts an observed input/output pair. Entries default to
// unapproved and only enter the corpus after explicit approval.
func (s *Server) learnHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req trainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.learn(w, r, req)
}

func (s *Server) learn(w http.ResponseWriter, r *http.Request, req trainingRequest) {
	example := models.TrainingExample{Input: req.Input, Output: req.Output}
	if err := example.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	accepted, err := s.matchEngine.Learn(r.Context(), req.Input, req.Output, req.Approved)
	if err != nil {
		slog.Error("Server.learn: failed to store training example", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store training example"))
		return
	}
	if !accepted {
		writeJSONResponse(w, http.StatusConflict, models.Error("A near-identical training input already exists"))
		return
	}
	slog.Info("Server.learn: training example stored", "approved", req.Approved)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Training example stored", nil))
}

func (s *Server) approveTrainingHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.st.ApproveTrainingExample(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Training example not found"))
			return
		}
		slog.Error("Server.approveTrainingHandler: approve failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to approve training example"))
		return
	}
	if err := s.matchEngine.ReloadCorpus(); err != nil {
		slog.Error("Server.approveTrainingHandler: corpus reload failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Approved but corpus reload failed"))
		return
	}
	slog.Info("Server.approveTrainingHandler: training example approved", "id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Training example approved", nil))
}

func (s *Server) deleteTrainingHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.st.DeleteTrainingExample(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Training example not found"))
			return
		}
		slog.Error("Server.deleteTrainingHandler: delete failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete training example"))
		return
	}
	if err := s.matchEngine.ReloadCorpus(); err != nil {
		slog.Error("Server.deleteTrainingHandler: corpus reload failed", "error", err)
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Training example deleted", nil))
}

// flowSummary is one entry of GET /api/v1/flows.
type flowSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Steps int    `json:"steps"`
	Entry bool   `json:"entry"`
}

func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Current()
	summaries := make([]flowSummary, 0, len(snap.Flows))
	for _, f := range snap.Flows {
		summaries = append(summaries, flowSummary{
			ID:    f.ID,
			Name:  f.Name,
			Steps: len(f.Steps),
			Entry: f.ID == snap.Mode,
		})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summaries))
}

// reloadHandler re-reads the configuration file, swaps the snapshot, and
// propagates the new settings to both engines.
func (s *Server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.cfg.Reload()
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Reload failed: "+err.Error()))
		return
	}
	s.matchEngine.Reconfigure(cfg.Matching)
	removed := s.flowEngine.ResetOrphanedStates()
	slog.Info("Server.reloadHandler: configuration reloaded", "flows", len(cfg.Flows), "states_reset", removed)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Configuration reloaded", map[string]interface{}{
		"flows":        len(cfg.Flows),
		"states_reset": removed,
	}))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Current()
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"active_conversations": s.flowEngine.ActiveStates(),
		"corpus_size":          s.matchEngine.CorpusSize(),
		"cache_entries":        s.matchEngine.CacheSize(r.Context()),
		"flows":                len(snap.Flows),
		"uptime":               time.Since(s.started).String(),
	}))
}
