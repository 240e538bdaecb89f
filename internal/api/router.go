package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/locks", func(r chi.Router) {
				r.Get("/", s.handleListLocks)
				r.Post("/", s.handleAddLock)
				r.Delete("/", s.handleUnlockAll)
				r.Get("/detected", s.handleDetectedLocks)

				r.Route("/{deviceID}", func(r chi.Router) {
					r.Get("/", s.handleLockStatus)
					r.Delete("/", s.handleRemoveLock)
				})
			})

			// Manual rule cleanup
			r.Delete("/rules", s.handlePurgeRules)

			r.Route("/family", func(r chi.Router) {
				r.Get("/", s.handleFamilyStatus)
				r.Post("/sync", s.handleFamilySync)
				r.Get("/members", s.handleListMembers)
				r.Put("/members/{memberID}/role", s.handleUpdateMemberRole)
				r.Delete("/members/{memberID}", s.handleRemoveMember)
				r.Get("/locks", s.handleListSharedLocks)
				r.Delete("/locks/{lockID}", s.handleRemoveSharedLock)
				r.Get("/activity", s.handleListActivity)
			})
		})
	})

	return r
}
