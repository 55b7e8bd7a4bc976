package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/library-system/internal/middleware"
)

// SetupRouter настраивает маршрутизацию API.
func (h *Handler) SetupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.GzipMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)

			r.Post("/users", h.CreateUser)

			r.Route("/books", func(r chi.Router) {
				r.Get("/", h.ListBooks)
				r.Post("/", h.CreateBook)
				r.Get("/{id}", h.GetBook)
				r.Put("/{id}", h.UpdateBook)
				r.Delete("/{id}", h.DeleteBook)
				r.Post("/{id}/request", h.RequestLoan)
			})

			r.Route("/loans", func(r chi.Router) {
				r.Get("/", h.ListLoans)
				r.Get("/overdue", h.ListOverdue)
				r.Post("/sweep", h.SweepOverdue)
				r.Get("/{id}", h.GetLoan)
				r.Post("/{id}/approve", h.ApproveLoan)
				r.Post("/{id}/reject", h.RejectLoan)
				r.Post("/{id}/return", h.ReturnLoan)
				r.Post("/{id}/reissue", h.ReissueLoan)
			})

			r.Get("/stats", h.Stats)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.ListNotifications)
				r.Post("/read-all", h.MarkAllNotificationsRead)
				r.Post("/{id}/read", h.MarkNotificationRead)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
