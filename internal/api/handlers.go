package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/reminder"
)

type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	Get(ctx context.Context, id string) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id, approverID string) (*appointment.Appointment, error)
	Start(ctx context.Context, id, actorID string) (*appointment.Appointment, error)
	Complete(ctx context.Context, id, actorID string) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id, actorID string) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id string, req appointment.CancelRequest) (*appointment.CancelResult, error)
	History(ctx context.Context, id string) ([]appointment.EventLog, error)
}

type ReminderLister interface {
	ListFor(ctx context.Context, appointmentID string) ([]reminder.Reminder, error)
}

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, appointment.CodeInvalidRequest, "could not parse JSON")
			return
		}

		appt, err := svc.Book(r.Context(), req.toBooking())
		if err != nil {
			handleServiceError(r.Context(), w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(r.Context(), w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

type transitionFunc func(ctx context.Context, id, actorID string) (*appointment.Appointment, error)

// transitionHandler serves the lifecycle endpoints that only need an actor.
func transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, appointment.CodeInvalidRequest, "could not parse JSON")
				return
			}
		}

		appt, err := fn(r.Context(), chi.URLParam(r, "id"), req.ActorID)
		if err != nil {
			handleServiceError(r.Context(), w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, appointment.CodeInvalidRequest, "could not parse JSON")
			return
		}

		actor := appointment.Actor(req.Actor)
		switch actor {
		case appointment.ActorPatient, appointment.ActorPractitioner, appointment.ActorStaff, appointment.ActorSystem:
		case "":
			actor = appointment.ActorStaff
		default:
			writeError(w, http.StatusBadRequest, appointment.CodeInvalidRequest, "unknown actor "+req.Actor)
			return
		}

		res, err := svc.Cancel(r.Context(), chi.URLParam(r, "id"), appointment.CancelRequest{
			Actor:   actor,
			ActorID: req.ActorID,
			Reason:  req.Reason,
		})
		if err != nil {
			handleServiceError(r.Context(), w, err)
			return
		}

		resp := toAppointmentResponse(res.Appointment)
		resp.Reassigned = res.Reassigned
		writeJSON(w, http.StatusOK, resp)
	}
}

func historyHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.History(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(r.Context(), w, err)
			return
		}

		out := make([]EventResponse, 0, len(events))
		for _, ev := range events {
			out = append(out, toEventResponse(ev))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listRemindersHandler(reminders ReminderLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := reminders.ListFor(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(r.Context(), w, err)
			return
		}

		out := make([]ReminderResponse, 0, len(list))
		for _, rem := range list {
			out = append(out, toReminderResponse(rem))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	code := appointment.Code(err)

	var status int
	switch code {
	case appointment.CodeInvalidRequest:
		status = http.StatusBadRequest
	case appointment.CodeNotFound:
		status = http.StatusNotFound
	case appointment.CodePastDate, appointment.CodeNotWorkingDay, appointment.CodeOutsideHours:
		status = http.StatusUnprocessableEntity
	case appointment.CodeConflict, appointment.CodeNoAvailability,
		appointment.CodeInvalidTransition, appointment.CodeStaleStatus:
		status = http.StatusConflict
	default:
		zerolog.Ctx(ctx).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, appointment.CodeInternal, "internal error")
		return
	}

	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
