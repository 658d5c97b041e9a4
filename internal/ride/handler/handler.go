package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"giu-carpool/internal/ride/domain"
	"giu-carpool/internal/ride/infrastructure/jobqueue"
	"giu-carpool/internal/ride/service"
	"giu-carpool/pkg/auth"
	"giu-carpool/pkg/logger"
)

// Handler is the thin HTTP surface: ride creation and lookup, manual status
// transitions, and a small ops view onto the delayed-job queue. All business
// rules live in the services it delegates to.
type Handler struct {
	rides  *service.CreateRideService
	status *service.RideStatusService
	repo   domain.RideRepository
	jobs   *jobqueue.Queue
	log    logger.Logger
}

func New(
	rides *service.CreateRideService,
	status *service.RideStatusService,
	repo domain.RideRepository,
	jobs *jobqueue.Queue,
	log logger.Logger,
) *Handler {
	return &Handler{
		rides:  rides,
		status: status,
		repo:   repo,
		jobs:   jobs,
		log:    log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRideRequest struct {
	AreaID        int64  `json:"areaId"`
	ToGIU         bool   `json:"toGIU"`
	GirlsOnly     bool   `json:"girlsOnly"`
	DepartureTime string `json:"departureTime"`
	Pricing       []struct {
		MeetingPointID int64   `json:"meetingPointId"`
		Price          float64 `json:"price"`
	} `json:"pricing"`
}

type rideResponse struct {
	ID             int64                `json:"id"`
	AreaID         int64                `json:"areaId"`
	DriverID       int64                `json:"driverId"`
	ToGIU          bool                 `json:"toGIU"`
	GirlsOnly      bool                 `json:"girlsOnly"`
	Status         string               `json:"status"`
	DepartureTime  string               `json:"departureTime"`
	SeatsAvailable int                  `json:"seatsAvailable"`
	CreatedAt      string               `json:"createdAt"`
	UpdatedAt      string               `json:"updatedAt"`
	Passengers     []passengerResponse  `json:"passengers"`
	MeetingPoints  []meetingPntResponse `json:"meetingPoints"`
}

type passengerResponse struct {
	PassengerID int64  `json:"passengerId"`
	CreatedAt   string `json:"createdAt"`
}

type meetingPntResponse struct {
	MeetingPointID int64   `json:"meetingPointId"`
	Price          float64 `json:"price"`
	OrderIndex     int     `json:"orderIndex"`
}

// CreateRide publishes a new ride for the authenticated driver.
func (h *Handler) CreateRide(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	departure, err := time.Parse(time.RFC3339, req.DepartureTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "departureTime must be RFC3339")
		return
	}

	cmd := service.CreateRideCommand{
		AreaID:        req.AreaID,
		DriverID:      claims.UserID,
		ToGIU:         req.ToGIU,
		GirlsOnly:     req.GirlsOnly,
		DepartureTime: departure,
	}
	for _, p := range req.Pricing {
		cmd.Pricing = append(cmd.Pricing, service.MeetingPointPrice{
			MeetingPointID: p.MeetingPointID,
			Price:          p.Price,
		})
	}

	ride, err := h.rides.Execute(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRideResponse(ride))
}

// GetRide is a passthrough read.
func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	rideID, err := strconv.ParseInt(r.PathValue("ride_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ride id")
		return
	}

	ride, err := h.repo.FindByID(r.Context(), rideID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRideResponse(ride))
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

// UpdateStatus is the synchronous twin of the ride-status-update topic:
// the caller gets the validation reason back directly.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	rideID, err := strconv.ParseInt(r.PathValue("ride_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ride id")
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ride, err := h.status.Transition(r.Context(), rideID, domain.RideStatus(req.Status))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRideResponse(ride))
}

// ListDelayedJobs exposes the scheduler's pending jobs for operators.
func (h *Handler) ListDelayedJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListDelayed(r.Context())
	if err != nil {
		h.log.Error("list_delayed_jobs_failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list delayed jobs")
		return
	}

	type jobResponse struct {
		ID       int64  `json:"id"`
		Kind     string `json:"kind"`
		RunAt    string `json:"runAt"`
		Attempts int    `json:"attempts"`
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse{
			ID:       j.ID,
			Kind:     j.Kind,
			RunAt:    j.RunAt.Format(time.RFC3339),
			Attempts: j.Attempts,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// PromoteJob forces a delayed job to run now.
func (h *Handler) PromoteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(r.PathValue("job_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.jobs.Promote(r.Context(), jobID); err != nil {
		if errors.Is(err, jobqueue.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.log.Error("promote_job_failed", err)
		writeError(w, http.StatusInternalServerError, "failed to promote job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
}

func toRideResponse(ride *domain.Ride) rideResponse {
	resp := rideResponse{
		ID:             ride.ID,
		AreaID:         ride.AreaID,
		DriverID:       ride.DriverID,
		ToGIU:          ride.ToGIU,
		GirlsOnly:      ride.GirlsOnly,
		Status:         ride.Status.String(),
		DepartureTime:  ride.DepartureTime.Format(time.RFC3339),
		SeatsAvailable: ride.SeatsAvailable,
		CreatedAt:      ride.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      ride.UpdatedAt.Format(time.RFC3339),
		Passengers:     []passengerResponse{},
		MeetingPoints:  []meetingPntResponse{},
	}
	for _, p := range ride.Passengers {
		resp.Passengers = append(resp.Passengers, passengerResponse{
			PassengerID: p.PassengerID,
			CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		})
	}
	for _, mp := range ride.MeetingPoints {
		resp.MeetingPoints = append(resp.MeetingPoints, meetingPntResponse{
			MeetingPointID: mp.MeetingPointID,
			Price:          mp.Price,
			OrderIndex:     mp.OrderIndex,
		})
	}
	return resp
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRideNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicatePassenger),
		errors.Is(err, domain.ErrNoSeatsAvailable),
		errors.Is(err, domain.ErrRideNotAcceptingPassengers):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrDepartureInPast),
		errors.Is(err, domain.ErrDepartureTooFar):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{
		"error":   http.StatusText(code),
		"message": msg,
	})
}
