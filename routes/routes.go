package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Dosada05/tournament-standings/handlers"
	"github.com/Dosada05/tournament-standings/middleware"
	"github.com/Dosada05/tournament-standings/models"
)

type Handlers struct {
	Tournament   *handlers.TournamentHandler
	Registration *handlers.RegistrationHandler
	Match        *handlers.MatchHandler
	Standing     *handlers.StandingHandler
	Progression  *handlers.ProgressionHandler
	WebSocket    *handlers.WebSocketHandler
}

type Options struct {
	JWTSecret   []byte
	CORSOrigins []string
	Logger      *slog.Logger
}

func SetupRoutes(router chi.Router, h Handlers, opts Options) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestLogger(opts.Logger))
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	authenticated := middleware.Authenticate(opts.JWTSecret)
	managers := middleware.RequireRole(models.RoleOrganizer, models.RoleAdmin)

	router.Get("/ws/tournaments/{tournamentID}", h.WebSocket.ServeWs)

	router.Route("/tournaments", func(r chi.Router) {
		r.Get("/", h.Tournament.ListHandler)
		r.With(authenticated, managers).Post("/", h.Tournament.CreateHandler)

		r.Route("/{tournamentID}", func(r chi.Router) {
			r.Get("/", h.Tournament.GetByIDHandler)

			r.Get("/registrations", h.Registration.ListHandler)
			r.With(authenticated).Post("/registrations", h.Registration.RegisterHandler)
			r.With(authenticated, managers).Post("/invitations", h.Progression.InviteHandler)

			r.Get("/matches", h.Match.ListHandler)
			r.With(authenticated, managers).Post("/matches", h.Match.CreateHandler)

			r.Route("/phases/{phase}", func(r chi.Router) {
				r.Get("/leaderboard", h.Standing.LeaderboardHandler)
				r.Get("/standings", h.Standing.PhaseStandingHandler)

				r.Group(func(r chi.Router) {
					r.Use(authenticated, managers)
					r.Post("/standings/recalculate", h.Standing.RecalculateHandler)
					r.Post("/start", h.Progression.StartPhaseHandler)
					r.Post("/complete", h.Progression.CompletePhaseHandler)
					r.Post("/qualify", h.Progression.QualifyHandler)
					r.Put("/groups", h.Progression.AssignGroupsHandler)
				})
			})
		})
	})

	router.Route("/registrations/{registrationID}", func(r chi.Router) {
		r.Get("/", h.Registration.GetHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Post("/check-in", h.Registration.CheckInHandler)
			r.Post("/withdraw", h.Registration.WithdrawHandler)

			r.With(managers).Post("/approve", h.Registration.ApproveHandler)
			r.With(managers).Post("/reject", h.Registration.RejectHandler)
			r.With(managers).Post("/disqualify", h.Registration.DisqualifyHandler)
		})
	})

	router.Route("/matches/{matchID}", func(r chi.Router) {
		r.Get("/", h.Match.GetHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticated, managers)
			r.Put("/results", h.Match.RecordResultsHandler)
			r.Post("/sync", h.Match.SyncHandler)
			r.Post("/finalize", h.Match.FinalizeHandler)
		})
	})

	router.Route("/standings", func(r chi.Router) {
		r.Use(authenticated, middleware.RequireRole(models.RoleAdmin))
		r.Get("/stale", h.Standing.StaleHandler)
		r.Post("/sweep", h.Standing.SweepHandler)
	})
}
