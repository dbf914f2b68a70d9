package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a registry holding eps.
func NewRegistry(eps ...Endpoint) *Registry {
	return &Registry{endpoints: eps}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// initMiddleware wraps handlers that require full server initialization.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns a command named use with one subcommand per
// registered endpoint. getServerURL is called at runtime to get the server
// URL.
func (r *Registry) BuildCommands(use, short string, getServerURL func() string) *cobra.Command {
	group := &cobra.Command{
		Use:   use,
		Short: short,
	}
	for _, ep := range r.endpoints {
		if cmd := ep.Command(getServerURL); cmd != nil {
			group.AddCommand(cmd)
		}
	}
	return group
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
