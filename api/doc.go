// Package api provides a REST-shaped local API: a router that dispatches
// get/post/put/patch/delete requests to in-memory handlers without a
// network hop.
//
// Routes are plain path patterns with named parameters:
//
//	router := api.NewRouter()
//	router.Get("/notes/:id", func(ctx context.Context, req *api.Request) (*api.Response, error) {
//		return api.JSON(http.StatusOK, notes[req.Params["id"]])
//	})
//
//	resp, err := router.Dispatch(ctx, api.NewRequest(http.MethodGet, "/notes/42", nil))
//
// The same router satisfies http.Handler, so the local surface can be
// mounted on a real server when a process boundary is wanted.
package api
