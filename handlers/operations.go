package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"patchcenter/appctx"
	"patchcenter/core"
	"patchcenter/middleware"
	"patchcenter/models"
	usecase "patchcenter/usecases/core"
)

type OperationsHTTPHandler struct {
	useCase *usecase.CoreUseCase
}

func NewOperationsHTTPHandler(useCase *usecase.CoreUseCase) *OperationsHTTPHandler {
	return &OperationsHTTPHandler{useCase: useCase}
}

// AppResultRequest is the body an agent PUTs for one app's result
type AppResultRequest struct {
	Success bool    `json:"success"`
	Error   *string `json:"error,omitempty"`
}

// AgentOutcomeRequest is the body an agent PUTs for an agent-level operation
type AgentOutcomeRequest struct {
	Success bool    `json:"success"`
	Error   *string `json:"error,omitempty"`
}

type validationErrorResponse struct {
	Error      string                   `json:"error"`
	Violations []models.PolicyViolation `json:"violations"`
}

// SetupEndpoints registers the operation lifecycle routes
func (h *OperationsHTTPHandler) SetupEndpoints(router *mux.Router, orgMiddleware *middleware.OrganizationMiddleware) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/operations", orgMiddleware.WithOrganization(h.HandleCreateOperation)).
		Methods("POST")
	api.HandleFunc("/operations", orgMiddleware.WithOrganization(h.HandleListOperations)).
		Methods("GET")
	api.HandleFunc("/operations/{id}", orgMiddleware.WithOrganization(h.HandleGetOperation)).
		Methods("GET")
	api.HandleFunc("/agents/{agent_id}/operations", orgMiddleware.WithOrganization(h.HandleListAgentOperations)).
		Methods("GET")
	api.HandleFunc("/agents/{agent_id}/queue", orgMiddleware.WithOrganization(h.HandlePollQueue)).
		Methods("GET")
	api.HandleFunc("/operations/{id}/agents/{agent_id}/apps/{app_id}/results",
		orgMiddleware.WithOrganization(h.HandleReportAppResult)).
		Methods("PUT")
	api.HandleFunc("/operations/{id}/agents/{agent_id}/results",
		orgMiddleware.WithOrganization(h.HandleReportAgentOutcome)).
		Methods("PUT")
}

func (h *OperationsHTTPHandler) HandleCreateOperation(w http.ResponseWriter, r *http.Request) {
	log.Printf("🚀 Create operation request received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	var req models.CreateOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ Invalid request body: %v", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.useCase.CreateOperation(r.Context(), organizationID, &req)
	if err != nil {
		var validationErr *usecase.ValidationError
		if errors.As(err, &validationErr) {
			log.Printf("❌ Operation request rejected: %d violations", len(validationErr.Violations))
			h.writeJSONResponse(w, http.StatusBadRequest, validationErrorResponse{
				Error:      "validation failed",
				Violations: validationErr.Violations,
			})
			return
		}
		log.Printf("❌ Failed to create operation: %v", err)
		http.Error(w, "failed to create operation", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, result)
}

func (h *OperationsHTTPHandler) HandleGetOperation(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 Get operation request received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	operationID := mux.Vars(r)["id"]
	maybeDetail, err := h.useCase.GetOperationDetail(r.Context(), organizationID, operationID)
	if err != nil {
		log.Printf("❌ Failed to get operation: %v", err)
		http.Error(w, "failed to get operation", http.StatusInternalServerError)
		return
	}

	detail, ok := maybeDetail.Get()
	if !ok {
		http.Error(w, "operation not found", http.StatusNotFound)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, detail)
}

func (h *OperationsHTTPHandler) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 List operations request received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	operationType := models.OperationType(r.URL.Query().Get("type"))
	if !operationType.Valid() {
		http.Error(w, "valid type query parameter required", http.StatusBadRequest)
		return
	}

	ops, err := h.useCase.ListOperationsByType(r.Context(), organizationID, operationType)
	if err != nil {
		log.Printf("❌ Failed to list operations: %v", err)
		http.Error(w, "failed to list operations", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, ops)
}

func (h *OperationsHTTPHandler) HandleListAgentOperations(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 List agent operations request received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	agentID := mux.Vars(r)["agent_id"]
	recs, err := h.useCase.ListOperationsForAgent(r.Context(), organizationID, agentID)
	if err != nil {
		log.Printf("❌ Failed to list agent operations: %v", err)
		http.Error(w, "failed to list agent operations", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, recs)
}

// HandlePollQueue hands the agent its pending work. Claiming is destructive:
// entries returned here are gone from the queue.
func (h *OperationsHTTPHandler) HandlePollQueue(w http.ResponseWriter, r *http.Request) {
	log.Printf("📥 Queue poll request received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	agentID := mux.Vars(r)["agent_id"]
	entries, err := h.useCase.PollAgentQueue(r.Context(), organizationID, agentID)
	if err != nil {
		log.Printf("❌ Failed to poll queue for agent %s: %v", agentID, err)
		http.Error(w, "failed to poll queue", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, entries)
}

func (h *OperationsHTTPHandler) HandleReportAppResult(w http.ResponseWriter, r *http.Request) {
	log.Printf("📨 App result report received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	var req AppResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ Invalid request body: %v", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.useCase.ReportAppResult(
		r.Context(), organizationID, vars["id"], vars["agent_id"], vars["app_id"], req.Success, req.Error)
	if err != nil {
		if core.IsNotFoundError(err) {
			http.Error(w, "operation app record not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to report app result: %v", err)
		http.Error(w, "failed to report app result", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *OperationsHTTPHandler) HandleReportAgentOutcome(w http.ResponseWriter, r *http.Request) {
	log.Printf("📨 Agent outcome report received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	var req AgentOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ Invalid request body: %v", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.useCase.ReportAgentOutcome(
		r.Context(), organizationID, vars["id"], vars["agent_id"], req.Success, req.Error)
	if err != nil {
		if core.IsNotFoundError(err) {
			http.Error(w, "operation agent record not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to report agent outcome: %v", err)
		http.Error(w, "failed to report agent outcome", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *OperationsHTTPHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode JSON response: %v", err)
	}
}
