// Command gateway runs the LLM protocol gateway: an HTTP server exposing
// the four ingress chat APIs and translating each request to a configured
// upstream dialect through the canonical pipeline.
package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/config"
	"github.com/digitallysavvy/go-llm-gateway/pkg/gateway"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
	"github.com/digitallysavvy/go-llm-gateway/pkg/transport"
)

func main() {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	configPath := os.Getenv("GATEWAY_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	server := &server{
		cfg:      cfg,
		pipeline: gateway.NewPipeline(transport.NewHTTPTransport(nil), cfg.Features),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Post("/v1/chat/completions", server.handle(canonical.IngressOpenAIChat))
	r.Post("/v1/responses", server.handle(canonical.IngressOpenAIResponses))
	r.Post("/v1/messages", server.handle(canonical.IngressAnthropic))
	r.Post("/v1beta/models/*", server.handleGemini)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	slog.Info("gateway listening", "addr", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, r); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type server struct {
	cfg      *config.Config
	pipeline *gateway.Pipeline
}

func (s *server) handle(api canonical.IngressAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, gatewayerrors.NewInvalidRequest("failed to read body: %v", err))
			return
		}
		req, err := gateway.DecodeIngressRequest(api, body, "", false, uuid.New())
		if err != nil {
			writeError(w, err)
			return
		}
		s.dispatch(w, r, req, body)
	}
}

// handleGemini serves /v1beta/models/{model}:generateContent and
// :streamGenerateContent; model and stream flag ride in the URL.
func (s *server) handleGemini(w http.ResponseWriter, r *http.Request) {
	tail := chi.URLParam(r, "*")
	model, action, found := strings.Cut(tail, ":")
	if !found {
		writeError(w, gatewayerrors.NewInvalidRequest("missing action in model path"))
		return
	}
	stream := false
	switch action {
	case "generateContent":
	case "streamGenerateContent":
		stream = true
	default:
		writeError(w, gatewayerrors.NewInvalidRequest("unknown action %q", action))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, gatewayerrors.NewInvalidRequest("failed to read body: %v", err))
		return
	}
	req, err := gateway.DecodeIngressRequest(canonical.IngressGemini, body, model, stream, uuid.New())
	if err != nil {
		writeError(w, err)
		return
	}
	s.dispatch(w, r, req, body)
}

func (s *server) dispatch(w http.ResponseWriter, r *http.Request, req *canonical.Request, rawBody []byte) {
	route, err := s.resolveRoute(req)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, _ := w.(http.Flusher)
		fw := &flushWriter{w: w, flusher: flusher}
		if err := s.pipeline.HandleStream(r.Context(), req, route, fw); err != nil {
			// Headers are already on the wire; surface the error as a
			// stream event rather than a status code.
			slog.Error("stream failed", "model", route.ClientModel, "error", err)
		}
		return
	}

	respBody, err := s.pipeline.HandleUnary(r.Context(), req, route, rawBody)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(respBody)
}

// resolveRoute picks the upstream for a model: the first upstream whose
// alias map carries it, else the first configured upstream with the model
// passed through unchanged.
func (s *server) resolveRoute(req *canonical.Request) (*gateway.Route, error) {
	if len(s.cfg.Upstreams) == 0 {
		return nil, gatewayerrors.NewTranslation("no upstreams configured", nil)
	}
	upstream := &s.cfg.Upstreams[0]
	upstreamModel := req.Model
	for i := range s.cfg.Upstreams {
		if mapped, ok := s.cfg.Upstreams[i].Models[req.Model]; ok {
			upstream = &s.cfg.Upstreams[i]
			upstreamModel = mapped
			break
		}
	}

	provider, err := parseProvider(upstream.Provider)
	if err != nil {
		return nil, err
	}
	return &gateway.Route{
		Provider:      provider,
		URL:           upstreamURL(upstream.BaseURL, provider, upstreamModel, req.Stream),
		Headers:       upstreamHeaders(provider, upstream.APIKey),
		ClientModel:   req.Model,
		UpstreamModel: upstreamModel,
		ForceFcInject: upstream.FcInject,
	}, nil
}

func parseProvider(name string) (canonical.ProviderKind, error) {
	switch name {
	case "openai":
		return canonical.ProviderOpenAI, nil
	case "openai_responses":
		return canonical.ProviderOpenAIResponses, nil
	case "anthropic":
		return canonical.ProviderAnthropic, nil
	case "gemini":
		return canonical.ProviderGemini, nil
	case "gemini_openai":
		return canonical.ProviderGeminiOpenAI, nil
	default:
		return 0, gatewayerrors.NewTranslation("unknown provider "+name, nil)
	}
}

func upstreamURL(baseURL string, provider canonical.ProviderKind, model string, stream bool) string {
	base := strings.TrimRight(baseURL, "/")
	switch provider {
	case canonical.ProviderOpenAI, canonical.ProviderGeminiOpenAI:
		return base + "/chat/completions"
	case canonical.ProviderOpenAIResponses:
		return base + "/responses"
	case canonical.ProviderAnthropic:
		return base + "/messages"
	case canonical.ProviderGemini:
		action := ":generateContent"
		if stream {
			action = ":streamGenerateContent?alt=sse"
		}
		return base + "/models/" + model + action
	default:
		return base
	}
}

func upstreamHeaders(provider canonical.ProviderKind, apiKey string) map[string]string {
	switch provider {
	case canonical.ProviderAnthropic:
		return map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": "2023-06-01",
		}
	case canonical.ProviderGemini:
		return map[string]string{"x-goog-api-key": apiKey}
	default:
		return map[string]string{"Authorization": "Bearer " + apiKey}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case gatewayerrors.IsInvalidRequest(err):
		status = http.StatusBadRequest
	case gatewayerrors.IsTransport(err):
		status = http.StatusBadGateway
	default:
		var upstream *gatewayerrors.UpstreamError
		if errors.As(err, &upstream) {
			status = upstream.StatusCode
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    "gateway_error",
		},
	}
	_ = writeJSON(w, payload)
}

func writeJSON(w io.Writer, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}

type flushWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return n, err
}
