package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Service   AppointmentService
	Reminders ReminderLister
	Health    *HealthHandler
	Logger    zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(cfg.Logger))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Service))

		r.Route("/{id}", func(r chi.Router) {
			r.Use(appointmentIDMiddleware)
			r.Get("/", getAppointmentHandler(cfg.Service))
			r.Post("/confirm", transitionHandler(cfg.Service.Confirm))
			r.Post("/start", transitionHandler(cfg.Service.Start))
			r.Post("/complete", transitionHandler(cfg.Service.Complete))
			r.Post("/no-show", transitionHandler(cfg.Service.MarkNoShow))
			r.Post("/cancel", cancelAppointmentHandler(cfg.Service))
			r.Get("/events", historyHandler(cfg.Service))

			if cfg.Reminders != nil {
				r.Get("/reminders", listRemindersHandler(cfg.Reminders))
			}
		})
	})

	return r
}
