package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-stacker/internal/backfill"
	"github.com/kozaktomas/photo-stacker/internal/database"
	"github.com/kozaktomas/photo-stacker/internal/web/handlers"
)

func (s *Server) setupRoutes(assets database.AssetStore, stacks database.StackStore, leases database.LeaseStore, embeddings database.EmbeddingReader, hasher backfill.FileHasher) {
	assetsHandler := handlers.NewAssetsHandler(assets)
	stacksHandler := handlers.NewStacksHandler(s.config, assets, stacks, embeddings, s.jobManager)
	backfillHandler := handlers.NewBackfillHandler(assets, leases, hasher, s.jobManager)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Assets
		r.Get("/assets/duplicates", assetsHandler.ListDuplicates)
		r.Get("/assets/{id}/instances", assetsHandler.Instances)
		r.Put("/assets/{id}/representative", assetsHandler.SetRepresentative)

		// Stacks
		r.Get("/stacks", stacksHandler.List)
		r.Get("/stacks/{id}/members", stacksHandler.Members)

		// Stack generation (long-running operations)
		r.Post("/stacks/generate", stacksHandler.Generate)
		r.Get("/stacks/generate/{jobId}", stacksHandler.Status)
		r.Get("/stacks/generate/{jobId}/events", stacksHandler.Events)
		r.Delete("/stacks/generate/{jobId}", stacksHandler.Cancel)

		// Backfill (long-running operations)
		r.Post("/backfill", backfillHandler.Start)
		r.Get("/backfill/progress", backfillHandler.Progress)
		r.Get("/backfill/{jobId}", backfillHandler.Status)
		r.Get("/backfill/{jobId}/events", backfillHandler.Events)
		r.Delete("/backfill/{jobId}", backfillHandler.Cancel)
	})
}
