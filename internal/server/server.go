package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/api"
)

// StreamHandlers are the push endpoints mounted next to the REST API.
type StreamHandlers struct {
	WebSocket http.Handler
	Events    http.Handler
	Negotiate http.HandlerFunc
}

// NewRouter builds the relay's HTTP surface. When validate is set, REST
// requests are checked against the embedded OpenAPI document before they
// reach a handler.
func NewRouter(server *Server, streams StreamHandlers, validate bool, logger *zap.Logger) (http.Handler, error) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	// Non-validated routes
	r.Get("/openapi.yaml", openapiHandler)
	r.Get("/docs", swaggerUIHandler)
	if streams.WebSocket != nil {
		r.Get("/ws", streams.WebSocket.ServeHTTP)
		r.Get("/", rootHandler(streams.WebSocket))
	}
	if streams.Events != nil {
		r.Get("/events", streams.Events.ServeHTTP)
	}
	if streams.Negotiate != nil {
		r.Get("/negotiate", streams.Negotiate)
	}

	var validator func(http.Handler) http.Handler
	if validate {
		swagger, err := openapi3.NewLoader().LoadFromData(api.OpenAPISpec)
		if err != nil {
			return nil, err
		}
		swagger.Servers = nil // Allow any host

		validator = oapimiddleware.OapiRequestValidatorWithOptions(swagger, &oapimiddleware.Options{
			ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
				writeJSON(w, statusCode, errorBody{Error: message})
			},
		})
	}

	// REST routes
	r.Group(func(apiRouter chi.Router) {
		apiRouter.Use(gzipMiddleware)
		if validator != nil {
			apiRouter.Use(validator)
		}

		apiRouter.Post("/telemetry", server.PostTelemetry)
		apiRouter.Get("/health", server.GetHealth)

		apiRouter.Route("/api", func(ar chi.Router) {
			ar.Get("/telemetry", server.GetTelemetry)
			ar.Get("/status", server.GetStatus)
			ar.Get("/waypoints", server.ListWaypoints)
			ar.Post("/waypoints", server.CreateWaypoint)
			ar.Delete("/waypoints/{id}", server.DeleteWaypoint)
			ar.Get("/flightlog", server.GetFlightLog)
		})
	})

	return r, nil
}

// rootHandler upgrades websocket requests on "/" and points browsers at the docs.
func rootHandler(ws http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			ws.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "/docs", http.StatusFound)
	}
}

func gzipMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", maskQueryToken(r.URL.RawQuery)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// maskQueryToken hides all but the first four characters of a "token" parameter.
func maskQueryToken(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	if token := values.Get("token"); len(token) > 4 {
		values.Set("token", token[:4]+"****")
	}
	var parts []string
	for k, vs := range values {
		for _, v := range vs {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(api.OpenAPISpec)
}

func swaggerUIHandler(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Telemetry Relay</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.10.3/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.3/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: "/openapi.yaml",
                dom_id: '#swagger-ui',
            });
        };
    </script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
