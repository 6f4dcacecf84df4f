package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Dosada05/tournament-standings/middleware"
	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/services"
)

type RegistrationHandler struct {
	registrationService *services.RegistrationService
}

func NewRegistrationHandler(rs *services.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{registrationService: rs}
}

type registerRequest struct {
	TeamID   int      `json:"team_id"`
	TeamName string   `json:"team_name"`
	Roster   []string `json:"roster"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// RegisterHandler обрабатывает POST /tournaments/{tournamentID}/registrations
func (h *RegistrationHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input registerRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	reg, err := h.registrationService.Register(r.Context(), services.RegisterInput{
		TournamentID: tournamentID,
		TeamID:       input.TeamID,
		TeamName:     input.TeamName,
		Roster:       input.Roster,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusCreated, jsonResponse{"registration": reg})
}

// ListHandler обрабатывает GET /tournaments/{tournamentID}/registrations?status=
func (h *RegistrationHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var status *models.RegistrationStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.RegistrationStatus(raw)
		if s != models.RegistrationPending && !s.IsActive() && !s.IsTerminal() {
			badRequestResponse(w, r, errors.New("invalid status query parameter"))
			return
		}
		status = &s
	}

	regs, err := h.registrationService.ListByTournament(r.Context(), tournamentID, status)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if regs == nil {
		regs = []*models.Registration{}
	}

	respond(w, r, http.StatusOK, jsonResponse{"registrations": regs})
}

// GetHandler обрабатывает GET /registrations/{registrationID}
func (h *RegistrationHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "registrationID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	reg, err := h.registrationService.Get(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"registration": reg})
}

func (h *RegistrationHandler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id int, actor models.Actor, _ string) (*models.Registration, error) {
		return h.registrationService.Approve(ctx, id, actor)
	})
}

func (h *RegistrationHandler) RejectHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registrationService.Reject)
}

func (h *RegistrationHandler) CheckInHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id int, actor models.Actor, _ string) (*models.Registration, error) {
		return h.registrationService.CheckIn(ctx, id, actor)
	})
}

func (h *RegistrationHandler) DisqualifyHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registrationService.Disqualify)
}

func (h *RegistrationHandler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registrationService.Withdraw)
}

type transitionFunc func(ctx context.Context, id int, actor models.Actor, reason string) (*models.Registration, error)

// transition обрабатывает POST /registrations/{registrationID}/<action> с необязательным {"reason": ...}
func (h *RegistrationHandler) transition(w http.ResponseWriter, r *http.Request, apply transitionFunc) {
	id, err := getIDFromURL(r, "registrationID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input reasonRequest
	if err := readOptionalJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	reg, err := apply(r.Context(), id, actor, input.Reason)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"registration": reg})
}
