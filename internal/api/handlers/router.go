package handlers

import "github.com/go-chi/chi/v5"

// Router assembles the profile-scoped API surface.
func Router(routines *RoutineHandler, doses *DoseHandler) chi.Router {
	r := chi.NewRouter()
	r.Route("/profiles/{profileKey}", func(pr chi.Router) {
		pr.Get("/doses", doses.Feed)
		pr.Route("/routines", func(rr chi.Router) {
			rr.Post("/", routines.Create)
			rr.Get("/", routines.List)
			rr.Route("/{routineKey}", func(kr chi.Router) {
				kr.Get("/", routines.Get)
				kr.Put("/", routines.Update)
				kr.Delete("/", routines.Cancel)
				kr.Get("/exceptions", doses.Exceptions)
				kr.Patch("/doses", doses.UpdateStatus)
				kr.Post("/doses/reschedule", doses.CreateReschedule)
				kr.Get("/doses/reschedule", doses.GetReschedule)
			})
		})
	})
	return r
}
