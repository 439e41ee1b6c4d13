package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// maxBodyBytes bounds request bodies; batches of large prompts fit well
// within it.
const maxBodyBytes = 8 << 20

// tokenCounts is the nested tokens object in responses. Values are null when
// the backend omitted them and estimation was disabled.
type tokenCounts struct {
	Prompt     *int `json:"prompt"`
	Completion *int `json:"completion"`
}

// generateResponse is the wire shape of a successful completion.
type generateResponse struct {
	Response    string      `json:"response"`
	Model       string      `json:"model"`
	CacheStatus string      `json:"cache_status"`
	LatencyMs   int64       `json:"latency_ms"`
	Tokens      tokenCounts `json:"tokens"`
	RequestID   string      `json:"request_id,omitempty"`
}

// chatResponse mirrors generateResponse with message in place of response.
type chatResponse struct {
	Message     string      `json:"message"`
	Model       string      `json:"model"`
	CacheStatus string      `json:"cache_status"`
	LatencyMs   int64       `json:"latency_ms"`
	Tokens      tokenCounts `json:"tokens"`
	RequestID   string      `json:"request_id,omitempty"`
}

func toGenerateResponse(c *gateway.Completion) generateResponse {
	return generateResponse{
		Response:    c.Response,
		Model:       c.Model,
		CacheStatus: string(c.CacheStatus),
		LatencyMs:   c.LatencyMs,
		Tokens:      tokenCounts{Prompt: c.PromptTokens, Completion: c.CompletionTokens},
		RequestID:   c.RequestID,
	}
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}

	c, err := s.deps.Pipeline.Generate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGenerateResponse(c))
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, gateway.Errorf(gateway.KindValidation, "invalid request body: %v", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = gateway.RequestIDFromContext(r.Context())
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	c, err := s.deps.Pipeline.Chat(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Message:     c.Response,
		Model:       c.Model,
		CacheStatus: string(c.CacheStatus),
		LatencyMs:   c.LatencyMs,
		Tokens:      tokenCounts{Prompt: c.PromptTokens, Completion: c.CompletionTokens},
		RequestID:   c.RequestID,
	})
}

// batchRequest is the wire shape of POST /batch/generate.
type batchRequest struct {
	Requests []*gateway.GenerationRequest `json:"requests"`
}

// batchSlot is one element of the batch response, ordered as the input.
// Exactly one of the completion fields and error is populated.
type batchSlot struct {
	*generateResponse
	Error *errorBody `json:"error,omitempty"`
}

type batchResponse struct {
	Responses []batchSlot `json:"responses"`
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, gateway.Errorf(gateway.KindValidation, "invalid request body: %v", err))
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, gateway.Errorf(gateway.KindValidation, "requests must be non-empty"))
		return
	}

	// Slots fail independently: an invalid element becomes that slot's error
	// and only the valid ones are dispatched.
	resp := batchResponse{Responses: make([]batchSlot, len(req.Requests))}
	valid := make([]*gateway.GenerationRequest, 0, len(req.Requests))
	slots := make([]int, 0, len(req.Requests))
	for i, g := range req.Requests {
		if g == nil {
			resp.Responses[i] = batchSlot{Error: errBody(gateway.Errorf(gateway.KindValidation, "request is null"))}
			continue
		}
		if err := g.Validate(s.deps.MaxTokensCeiling); err != nil {
			resp.Responses[i] = batchSlot{Error: errBody(err)}
			continue
		}
		if g.RequestID == "" {
			g.RequestID = gateway.RequestIDFromContext(r.Context())
		}
		valid = append(valid, g)
		slots = append(slots, i)
	}

	if len(valid) > 0 {
		outcomes := s.deps.Pipeline.Batch(r.Context(), valid, s.deps.BatchConcurrency, s.deps.BatchDeadline)
		for j, o := range outcomes {
			if o.Err != nil {
				resp.Responses[slots[j]] = batchSlot{Error: errBody(o.Err)}
				continue
			}
			gr := toGenerateResponse(o.Completion)
			resp.Responses[slots[j]] = batchSlot{generateResponse: &gr}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.deps.Models.Models()})
}

func (s *server) decodeGenerate(w http.ResponseWriter, r *http.Request) (*gateway.GenerationRequest, bool) {
	var req gateway.GenerationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, gateway.Errorf(gateway.KindValidation, "invalid request body: %v", err))
		return nil, false
	}
	if req.RequestID == "" {
		req.RequestID = gateway.RequestIDFromContext(r.Context())
	}
	if err := req.Validate(s.deps.MaxTokensCeiling); err != nil {
		writeError(w, err)
		return nil, false
	}
	return &req, true
}

// errorBody is the structured failure shape in responses: kind, reason, and
// a retry hint for rate_limited.
type errorBody struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after,omitempty"` // seconds
}

func errBody(err error) *errorBody {
	body := &errorBody{Kind: string(gateway.KindOf(err)), Message: kindMessage(err)}
	var ge *gateway.Error
	if errors.As(err, &ge) && ge.RetryAfter > 0 {
		body.RetryAfter = int64((ge.RetryAfter + time.Second - 1) / time.Second)
	}
	return body
}

func kindMessage(err error) string {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return ge.Message
	}
	return err.Error()
}

// errorStatus maps error kinds to HTTP status codes.
func errorStatus(err error) int {
	switch gateway.KindOf(err) {
	case gateway.KindValidation:
		return http.StatusBadRequest
	case gateway.KindUnauthorized:
		return http.StatusUnauthorized
	case gateway.KindModelUnavailable:
		return http.StatusNotFound
	case gateway.KindTimeout:
		return http.StatusRequestTimeout
	case gateway.KindRateLimited:
		return http.StatusTooManyRequests
	case gateway.KindBackendTransient, gateway.KindBackendRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]*errorBody{"error": errBody(err)})
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
