package chi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface is the set of HTTP operations the API serves.
type ServerInterface interface {
	// GET /recommendations
	GetRecommendations(w http.ResponseWriter, r *http.Request, params GetRecommendationsParams)
	// GET /suggestions
	GetSuggestions(w http.ResponseWriter, r *http.Request, params GetSuggestionsParams)
	// GET /products
	ListProducts(w http.ResponseWriter, r *http.Request)
	// GET /ingredients
	ListIngredients(w http.ResponseWriter, r *http.Request)
	// GET /sales
	ListSales(w http.ResponseWriter, r *http.Request)
	// GET /health
	HealthCheck(w http.ResponseWriter, r *http.Request)
	// GET /metrics
	Metrics(w http.ResponseWriter, r *http.Request)
}

// GetRecommendationsParams defines parameters for GetRecommendations.
type GetRecommendationsParams struct {
	Query string `form:"query" json:"query"`
}

// GetSuggestionsParams defines parameters for GetSuggestions.
type GetSuggestionsParams struct {
	Query string `form:"query" json:"query"`
}

// InvalidParamError reports a query parameter that could not be bound.
type InvalidParamError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %v", e.ParamName, e.Err)
}

func (e *InvalidParamError) Unwrap() error { return e.Err }

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseRouter       chi.Router
	Middlewares      []func(http.Handler) http.Handler
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

type serverWrapper struct {
	handler     ServerInterface
	middlewares []func(http.Handler) http.Handler
	errHandler  func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *serverWrapper) wrap(h http.HandlerFunc) http.Handler {
	var handler http.Handler = h
	for _, mw := range siw.middlewares {
		handler = mw(handler)
	}
	return handler
}

func (siw *serverWrapper) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	var params GetRecommendationsParams
	if err := runtime.BindQueryParameter("form", true, true, "query", r.URL.Query(), &params.Query); err != nil {
		siw.errHandler(w, r, &InvalidParamError{ParamName: "query", Err: err})
		return
	}
	siw.wrap(func(w http.ResponseWriter, r *http.Request) {
		siw.handler.GetRecommendations(w, r, params)
	}).ServeHTTP(w, r)
}

func (siw *serverWrapper) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	var params GetSuggestionsParams
	if err := runtime.BindQueryParameter("form", true, true, "query", r.URL.Query(), &params.Query); err != nil {
		siw.errHandler(w, r, &InvalidParamError{ParamName: "query", Err: err})
		return
	}
	siw.wrap(func(w http.ResponseWriter, r *http.Request) {
		siw.handler.GetSuggestions(w, r, params)
	}).ServeHTTP(w, r)
}

// HandlerWithOptions mounts every operation of si on the base router.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	errHandler := options.ErrorHandlerFunc
	if errHandler == nil {
		errHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}

	wrapper := &serverWrapper{
		handler:     si,
		middlewares: options.Middlewares,
		errHandler:  errHandler,
	}

	r.Get("/recommendations", wrapper.GetRecommendations)
	r.Get("/suggestions", wrapper.GetSuggestions)
	r.Get("/products", wrapper.wrap(si.ListProducts).ServeHTTP)
	r.Get("/ingredients", wrapper.wrap(si.ListIngredients).ServeHTTP)
	r.Get("/sales", wrapper.wrap(si.ListSales).ServeHTTP)
	r.Get("/health", wrapper.wrap(si.HealthCheck).ServeHTTP)
	r.Get("/metrics", wrapper.wrap(si.Metrics).ServeHTTP)

	return r
}
