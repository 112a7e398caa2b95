package main

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/uhwio/whatsappaibot/internal/api"
	"github.com/uhwio/whatsappaibot/internal/webhook"
)

// maxRequestBody comfortably fits any Cloud API webhook envelope.
const maxRequestBody = 1 << 20

func newRouter(health *api.Handler, hook *webhook.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestSize(maxRequestBody))

	health.RegisterRoutes(r)
	hook.RegisterRoutes(r)

	return r
}
