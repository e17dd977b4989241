package gateway

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/config"
	"github.com/digitallysavvy/go-llm-gateway/pkg/fc"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
	"github.com/digitallysavvy/go-llm-gateway/pkg/observability"
	"github.com/digitallysavvy/go-llm-gateway/pkg/sse"
	"github.com/digitallysavvy/go-llm-gateway/pkg/telemetry"
	"github.com/digitallysavvy/go-llm-gateway/pkg/transcode"
	"github.com/digitallysavvy/go-llm-gateway/pkg/transport"
)

// Route is one resolved upstream target for a request: where to send it,
// which dialect the upstream speaks, and the model-name mapping applied by
// the routing layer.
type Route struct {
	Provider      canonical.ProviderKind
	URL           string
	Headers       map[string]string
	ClientModel   string
	UpstreamModel string

	// ForceFcInject applies prompt-based function calling even when the
	// dialect supports native tools.
	ForceFcInject bool
}

// ModelRewritten reports whether the route goes through a model alias.
func (r *Route) ModelRewritten() bool {
	return r.ClientModel != r.UpstreamModel
}

// Pipeline runs per-request translation against one transport. It holds no
// per-request state; every handler call is an isolated flow.
type Pipeline struct {
	Transport transport.Transport
	Features  config.Features
}

// NewPipeline creates a pipeline over the given transport.
func NewPipeline(t transport.Transport, features config.Features) *Pipeline {
	return &Pipeline{Transport: t, Features: features}
}

func (p *Pipeline) retryOptions() fc.RetryOptions {
	return fc.RetryOptions{
		Enabled:        p.Features.EnableFcErrorRetry,
		MaxAttempts:    p.Features.FcErrorRetryMaxAttempts,
		PromptTemplate: p.Features.FcErrorRetryPromptTemplate,
	}
}

// HandleUnary runs one non-streaming request end-to-end and returns the
// client response body. FC inject, FC error retry, auto-fallback to
// inject, and passthrough model rewriting all happen here.
//
// rawBody is the original client wire body; when upstream and ingress
// dialects match, the upstream speaks OpenAI Chat, and FC error retry is
// off, it enables the wire retry shape of auto-fallback, which mutates the
// preencoded bytes instead of round-tripping canonically.
func (p *Pipeline) HandleUnary(ctx context.Context, req *canonical.Request, route *Route, rawBody []byte) ([]byte, error) {
	start := time.Now()
	req.Model = route.UpstreamModel
	sameDialect := SameDialect(route.Provider, req.IngressAPI)

	var savedTools []canonical.ToolSpec
	if route.ForceFcInject {
		var err error
		savedTools, err = fc.ApplyFcInject(req, p.Features.PromptTemplate)
		if err != nil {
			return nil, err
		}
	}
	fcActive := len(savedTools) > 0

	status, body, err := p.exchangeUnary(ctx, req, route, sameDialect, fcActive)
	if err != nil {
		// Auto-fallback: a native-tools rejection retries the same logical
		// request with FC inject.
		if fcActive || !fc.ShouldAutoFallbackToInject(err) {
			return nil, err
		}
		preferWire := sameDialect && !p.Features.EnableFcErrorRetry && len(rawBody) > 0 &&
			(route.Provider == canonical.ProviderOpenAI || route.Provider == canonical.ProviderGeminiOpenAI)
		if preferWire {
			injectBody := RewriteModelName(rawBody, route.UpstreamModel)
			injectBody, wireTools, wireErr := ApplyWireInjectOpenAI(injectBody, p.Features.PromptTemplate)
			if wireErr != nil {
				return nil, wireErr
			}
			savedTools = wireTools
			fcActive = len(savedTools) > 0
			status, body, err = p.sendUnaryPreencoded(ctx, req.IngressAPI, route, injectBody, fcActive)
			if err != nil {
				return nil, err
			}
		} else {
			savedTools, err = fc.ApplyFcInject(req, p.Features.PromptTemplate)
			if err != nil {
				return nil, err
			}
			fcActive = len(savedTools) > 0
			status, body, err = p.exchangeUnary(ctx, req, route, sameDialect, fcActive)
			if err != nil {
				return nil, err
			}
		}
	}
	_ = status

	// Passthrough: same dialect, no FC work pending. Only the model name
	// may need rewriting.
	if sameDialect && !fcActive {
		if route.ModelRewritten() {
			body = RewriteModelName(body, route.ClientModel)
		}
		return body, nil
	}

	resp, err := DecodeProviderResponse(route.Provider, body)
	if err != nil {
		return nil, err
	}

	if fcActive {
		if err := p.postprocessWithRetry(ctx, req, route, resp, savedTools, sameDialect); err != nil {
			return nil, err
		}
	}

	if resp.Usage.InputTokens == nil && resp.Usage.OutputTokens == nil {
		resp.Usage = observability.MergeUsage(resp.Usage,
			observability.EstimateRequestTokens(req),
			observability.EstimateResponseTokens(resp.Content))
	}
	observability.LogRequestUsage(route.ClientModel, resp.Usage, time.Since(start))

	return EncodeIngressResponse(req.IngressAPI, resp, route.ClientModel)
}

// postprocessWithRetry applies unary FC post-processing, re-issuing the
// upstream call on parse/validation failures while retry budget remains.
// Each retry is a fresh upstream exchange; no partial state carries over.
// When the budget runs out the response passes through untouched.
func (p *Pipeline) postprocessWithRetry(ctx context.Context, req *canonical.Request, route *Route, resp *canonical.Response, savedTools []canonical.ToolSpec, sameDialect bool) error {
	retry := fc.NewRetryContext(p.retryOptions())
	originalMessages := req.Messages

	for {
		text, hasTrigger := fc.ExtractResponseTextIfTrigger(resp.Content)
		if !hasTrigger {
			return nil
		}
		result, err := fc.ProcessFcResponse(text, savedTools)
		if err != nil {
			return err
		}
		switch result.Kind {
		case fc.ResultToolCalls:
			var content []canonical.Part
			if result.TextBefore != "" {
				content = append(content, canonical.TextPart{Text: result.TextBefore})
			}
			resp.Content = append(content, result.ToolParts...)
			resp.StopReason = canonical.StopToolCalls
			return nil

		case fc.ResultParseError:
			if !retry.ShouldContinue(true, true) {
				// Exhausted or disabled: the client sees plain model text.
				return nil
			}
			retry.Increment()
			prompt := fc.BuildRetryPrompt(result.Error, result.OriginalText, p.Features.FcErrorRetryPromptTemplate)
			req.Messages = fc.BuildRetryMessages(originalMessages, result.OriginalText, prompt)

			_, body, err := p.exchangeUnary(ctx, req, route, sameDialect, true)
			if err != nil {
				return err
			}
			retried, err := DecodeProviderResponse(route.Provider, body)
			if err != nil {
				return err
			}
			*resp = *retried

		default:
			return nil
		}
	}
}

func (p *Pipeline) exchangeUnary(ctx context.Context, req *canonical.Request, route *Route, sameDialect, fcActive bool) (int, []byte, error) {
	upstreamBody, err := EncodeProviderRequest(route.Provider, req, sameDialect)
	if err != nil {
		return 0, nil, err
	}
	return p.sendUnaryPreencoded(ctx, req.IngressAPI, route, upstreamBody, fcActive)
}

func (p *Pipeline) sendUnaryPreencoded(ctx context.Context, ingress canonical.IngressAPI, route *Route, upstreamBody []byte, fcActive bool) (int, []byte, error) {
	ctx, end := telemetry.StartExchange(ctx, ingress.String(), route.Provider.String(),
		route.UpstreamModel, false, fcActive)
	status, body, err := p.Transport.SendUnary(ctx, route.URL, route.Headers, upstreamBody)
	if err == nil && (status < 200 || status >= 300) {
		err = gatewayerrors.NewUpstream(status, transport.SanitizeErrorBody(body))
	}
	end(err)
	if err != nil {
		return status, nil, err
	}
	return status, body, nil
}

// HandleStream runs one streaming request end-to-end, writing client SSE
// frames to w. Frames are written atomically: no canonical event is
// partially emitted.
func (p *Pipeline) HandleStream(ctx context.Context, req *canonical.Request, route *Route, w io.Writer) error {
	req.Model = route.UpstreamModel
	sameDialect := SameDialect(route.Provider, req.IngressAPI)

	var savedTools []canonical.ToolSpec
	if route.ForceFcInject {
		var err error
		savedTools, err = fc.ApplyFcInject(req, p.Features.PromptTemplate)
		if err != nil {
			return err
		}
	}
	fcActive := len(savedTools) > 0

	stream, err := p.openStream(ctx, req, route, sameDialect, fcActive)
	if err != nil {
		if fcActive || !fc.ShouldAutoFallbackToInject(err) {
			return err
		}
		savedTools, err = fc.ApplyFcInject(req, p.Features.PromptTemplate)
		if err != nil {
			return err
		}
		fcActive = len(savedTools) > 0
		stream, err = p.openStream(ctx, req, route, sameDialect, fcActive)
		if err != nil {
			return err
		}
	}
	defer stream.Close()

	responseID := "resp_" + uuid.NewString()
	transcoder := transcode.NewStreamTranscoder(route.Provider, req.IngressAPI, route.ClientModel, responseID)
	scanner := sse.NewFrameScanner(stream)

	// Fast path: matching dialects with no FC work forward raw frames,
	// subject to model-name rewriting in the frame's JSON payload.
	if transcoder.IsPassthrough() && !fcActive {
		for {
			frame, err := scanner.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return gatewayerrors.NewTransport("upstream stream read failed", err)
			}
			if route.ModelRewritten() {
				frame = RewriteModelName(frame, route.ClientModel)
			}
			if _, err := w.Write(frame); err != nil {
				return err
			}
		}
	}

	processor := fc.NewStreamingProcessor(transcoder, fcActive, fc.TriggerSignal())
	var out []string
	for {
		frame, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return gatewayerrors.NewTransport("upstream stream read failed", err)
		}
		out = out[:0]
		if !processor.TryProcessRawFrame(frame, &out) {
			// Not parseable SSE: forward the raw bytes untouched rather
			// than dropping data on the floor.
			if _, err := w.Write(frame); err != nil {
				return err
			}
			continue
		}
		for _, encoded := range out {
			if _, err := io.WriteString(w, encoded); err != nil {
				return err
			}
		}
	}

	out = out[:0]
	processor.Finalize(&out)
	for _, encoded := range out {
		if _, err := io.WriteString(w, encoded); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) openStream(ctx context.Context, req *canonical.Request, route *Route, sameDialect, fcActive bool) (io.ReadCloser, error) {
	upstreamBody, err := EncodeProviderRequest(route.Provider, req, sameDialect)
	if err != nil {
		return nil, err
	}

	ctx, end := telemetry.StartExchange(ctx, req.IngressAPI.String(), route.Provider.String(),
		route.UpstreamModel, true, fcActive)
	status, _, stream, err := p.Transport.SendStream(ctx, route.URL, route.Headers, upstreamBody)
	if err != nil {
		end(err)
		return nil, err
	}
	if status < 200 || status >= 300 {
		body, _ := io.ReadAll(io.LimitReader(stream, 64*1024))
		_ = stream.Close()
		upstreamErr := gatewayerrors.NewUpstream(status, transport.SanitizeErrorBody(body))
		end(upstreamErr)
		return nil, upstreamErr
	}
	end(nil)
	return stream, nil
}
