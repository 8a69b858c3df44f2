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

type SchedulesHTTPHandler struct {
	useCase *usecase.CoreUseCase
}

func NewSchedulesHTTPHandler(useCase *usecase.CoreUseCase) *SchedulesHTTPHandler {
	return &SchedulesHTTPHandler{useCase: useCase}
}

// SetupEndpoints registers the schedule management routes
func (h *SchedulesHTTPHandler) SetupEndpoints(router *mux.Router, orgMiddleware *middleware.OrganizationMiddleware) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/schedules", orgMiddleware.WithOrganization(h.HandleCreateSchedule)).
		Methods("POST")
	api.HandleFunc("/schedules", orgMiddleware.WithOrganization(h.HandleListSchedules)).
		Methods("GET")
	api.HandleFunc("/schedules/{id}", orgMiddleware.WithOrganization(h.HandleGetSchedule)).
		Methods("GET")
	api.HandleFunc("/schedules/{id}", orgMiddleware.WithOrganization(h.HandleCancelSchedule)).
		Methods("DELETE")
}

func (h *SchedulesHTTPHandler) HandleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	log.Printf("⏰ Create schedule request received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	var req models.CreateScheduledJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ Invalid request body: %v", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.useCase.ScheduleOperation(r.Context(), organizationID, &req)
	if err != nil {
		var validationErr *usecase.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSONResponse(w, http.StatusBadRequest, validationErrorResponse{
				Error:      "validation failed",
				Violations: validationErr.Violations,
			})
			return
		}
		log.Printf("❌ Failed to create schedule: %v", err)
		http.Error(w, "failed to create schedule", http.StatusBadRequest)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, job)
}

func (h *SchedulesHTTPHandler) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	log.Printf("⏰ List schedules request received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	jobs, err := h.useCase.ListScheduledJobs(r.Context(), organizationID)
	if err != nil {
		log.Printf("❌ Failed to list schedules: %v", err)
		http.Error(w, "failed to list schedules", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, jobs)
}

func (h *SchedulesHTTPHandler) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	log.Printf("⏰ Get schedule request received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	jobID := mux.Vars(r)["id"]
	maybeJob, err := h.useCase.GetScheduledJob(r.Context(), organizationID, jobID)
	if err != nil {
		log.Printf("❌ Failed to get schedule: %v", err)
		http.Error(w, "failed to get schedule", http.StatusInternalServerError)
		return
	}

	job, ok := maybeJob.Get()
	if !ok {
		http.Error(w, "schedule not found", http.StatusNotFound)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, job)
}

func (h *SchedulesHTTPHandler) HandleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	log.Printf("⏰ Cancel schedule request received from %s", r.RemoteAddr)

	organizationID, ok := appctx.GetOrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization scope required", http.StatusUnauthorized)
		return
	}

	jobID := mux.Vars(r)["id"]
	if err := h.useCase.CancelScheduledJob(r.Context(), organizationID, jobID); err != nil {
		if core.IsNotFoundError(err) {
			http.Error(w, "schedule not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to cancel schedule: %v", err)
		http.Error(w, "failed to cancel schedule", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (h *SchedulesHTTPHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode JSON response: %v", err)
	}
}
