package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumenforge/respondctl/internal/bus"
	"github.com/lumenforge/respondctl/internal/decisionstate"
	"github.com/lumenforge/respondctl/internal/deepthink/engine"
	"github.com/lumenforge/respondctl/internal/deepthink/router"
	"github.com/lumenforge/respondctl/internal/modelpipeline"
	"github.com/lumenforge/respondctl/internal/orchestrator"
	"github.com/lumenforge/respondctl/internal/outputplan"
	"github.com/lumenforge/respondctl/internal/patch"
	"github.com/lumenforge/respondctl/internal/sessionstore"
	"github.com/lumenforge/respondctl/internal/telemetry"
	"github.com/lumenforge/respondctl/internal/tracelog"
	"github.com/lumenforge/respondctl/internal/types"
)

// maxUserTextChars bounds the request body's user_text field.
const maxUserTextChars = 8000

// UX states exposed in the X-UX-State header and response body.
const (
	uxAnswered              = "answered"
	uxAwaitingClarification = "awaiting_clarification"
	uxRefused               = "refused"
	uxClosed                = "closed"
	uxFallback              = "fallback"
)

type chatRequest struct {
	UserText  string `json:"user_text"`
	Mode      string `json:"mode,omitempty"`
	Tier      string `json:"tier,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Action       string `json:"action"`
	RenderedText string `json:"rendered_text"`
	UXState      string `json:"ux_state"`
	RequestID    string `json:"request_id"`
}

type errorResponse struct {
	OK            bool   `json:"ok"`
	FailureType   string `json:"failure_type"`
	FailureReason string `json:"failure_reason"`
	RequestID     string `json:"request_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	reqID := requestID(r.Context())

	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, types.FailureContractViolation, "method not allowed", started)
		return
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		s.writeError(w, r, http.StatusUnsupportedMediaType, types.FailureContractViolation, "content-type must be application/json", started)
		return
	}

	var body chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024))
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, types.FailureContractViolation, "malformed request body", started)
		return
	}
	text := strings.TrimSpace(body.UserText)
	if text == "" || len(text) > maxUserTextChars {
		s.writeError(w, r, http.StatusBadRequest, types.FailureContractViolation, "user_text must be non-empty and length-bounded", started)
		return
	}

	subject := s.subjectID(r, body)
	if ok, cooldown := s.limiter.allow(subject, time.Now()); !ok {
		w.Header().Set("X-Cooldown-Seconds", strconv.Itoa(cooldown))
		s.writeError(w, r, http.StatusTooManyRequests, types.FailureAbuse, "rate limit exceeded", started)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.APIChatTotalTimeoutMs)*time.Millisecond)
	defer cancel()

	trace := s.traces.Open(reqID)

	resp, uxState, failureType, failureReason, status := s.runPipeline(ctx, trace, reqID, body, text)
	trace.Close(uxState)

	latency := time.Since(started).Milliseconds()
	s.emitChatSummary(reqID, subject, status, latency, resp, failureType, failureReason)

	if status != http.StatusOK {
		w.Header().Set("X-UX-State", uxFallback)
		writeJSON(w, status, errorResponse{
			OK:            false,
			FailureType:   string(*failureType),
			FailureReason: *failureReason,
			RequestID:     reqID,
		})
		return
	}
	w.Header().Set("X-UX-State", uxState)
	writeJSON(w, http.StatusOK, resp)
}

// runPipeline executes the five fixed stages and returns the rendered
// response. A nil chatResponse (status != 200) means the request failed
// closed at an internal invariant.
func (s *Server) runPipeline(ctx context.Context, trace *tracelog.Trace, reqID string, body chatRequest, text string) (*chatResponse, string, *types.FailureType, *string, int) {
	decisionID := uuid.New().String()

	prior := s.recallProximity(ctx, body.SessionID)
	ds, err := decisionstate.Assemble(decisionID, reqID, decisionstate.RawFeatures{
		Text:            text,
		PriorProximity:  prior,
		EntitlementTier: s.entitlementTier(body.Tier),
	})
	if err != nil {
		return s.failClosed(err)
	}
	trace.DecisionStateAssembled(string(ds.ProximityState), string(ds.ReversibilityClass))
	s.publish(bus.StageDecisionStateAssembled, reqID, nil)

	cp, err := orchestrator.Assemble(ds, orchestrator.TurnSignals{Text: text})
	if err != nil {
		return s.failClosed(err)
	}
	trace.ControlPlanAssembled(string(cp.Action), string(cp.RigorLevel))
	s.publish(bus.StageControlPlanAssembled, reqID, nil)

	op, err := outputplan.Assemble(reqID, ds, cp)
	if err != nil {
		return s.failClosed(err)
	}
	trace.OutputPlanAssembled(string(op.Action), string(op.Posture))
	s.publish(bus.StageOutputPlanAssembled, reqID, nil)

	plan, res, deepThinkRan := s.runDeepThink(trace, reqID, body, ds, op)

	resp, uxState, failureType, failureReason := s.renderResponse(ctx, trace, reqID, op, res)

	s.emitTelemetry(reqID, ds, op, plan, res, deepThinkRan)
	s.persistSession(body.SessionID, ds, resp, res, deepThinkRan)

	return resp, uxState, failureType, failureReason, http.StatusOK
}

// runDeepThink routes and runs the refinement loop. It only applies to
// ANSWER-permitted requests in deep mode; every other request skips the loop
// entirely (no plan, no passes, no downgrade).
func (s *Server) runDeepThink(trace *tracelog.Trace, reqID string, body chatRequest, ds types.DecisionState, op types.OutputPlan) (types.Plan, engine.Result, bool) {
	initial := patch.Decision{Action: "ANSWER"}
	if op.Action != types.ActionAnswer || body.Mode != "deep" {
		return types.Plan{}, engine.Result{FinalState: initial}, false
	}

	plan := router.Route(router.Input{
		EntitlementTier:  s.entitlementTier(body.Tier),
		DeepthinkEnabled: s.cfg.DeepthinkEnabled,
		RequestedMode:    body.Mode,
		BreakerTripped:   s.brk != nil && s.brk.Tripped(),
		AbuseBlocked:     false,
		TotalBudgetUnits: s.cfg.DeepthinkTotalBudgetUnits,
		TotalTimeoutMs:   s.cfg.DeepthinkTotalTimeoutMs,
		MinPassTimeoutMs: s.cfg.MinPassTimeoutMs,
		MinBudgetPerPass: s.cfg.MinBudgetPerPass,
	})
	trace.DeepThinkPlanned(plan.EffectivePassCount)
	s.publish(bus.StageDeepThinkPlanned, reqID, nil)

	ectx := types.EngineContext{
		BudgetUnitsRemaining: s.cfg.DeepthinkTotalBudgetUnits,
		BreakerTripped:       s.brk != nil && s.brk.Tripped(),
		AbuseBlocked:         false,
		NowMs:                s.nowMs,
	}
	res := engine.Run(initial, ds, plan, ectx, s.nowMs())
	for _, sum := range res.PassSummaries {
		trace.PassCompleted(string(sum.Type), sum.Executed, sum.CostUnits, sum.DurationMs, sum.Strikes)
	}
	trace.DeepThinkStopped(string(res.StopReason), res.Downgraded)
	s.publish(bus.StageDeepThinkStopped, reqID, nil)
	return plan, res, true
}

// renderResponse resolves the final action from the OutputPlan plus any
// deep-think patch, renders text (model or deterministic fallback), and never
// lets a model failure change the action — only the text path.
func (s *Server) renderResponse(ctx context.Context, trace *tracelog.Trace, reqID string, op types.OutputPlan, res engine.Result) (*chatResponse, string, *types.FailureType, *string) {
	finalAction := op.Action
	uxState := uxStateFor(finalAction)
	var renderedText string
	var renderErr error

	switch {
	case op.Action == types.ActionAnswer && res.FinalState.Action == "ASK_CLARIFY":
		finalAction = types.ActionAskOneQuestion
		uxState = uxAwaitingClarification
		renderedText = res.FinalState.ClarifyQuestion
	case op.Action == types.ActionAnswer && res.FinalState.Action == "FALLBACK":
		uxState = uxFallback
		renderedText = modelpipeline.Fallback(op)
	default:
		renderedText, renderErr = s.render(ctx, op, res)
		if renderErr != nil {
			uxState = uxFallback
		}
	}
	trace.ModelInvoked(string(finalAction), 0)
	s.publish(bus.StageModelInvoked, reqID, nil)

	resp := &chatResponse{
		Action:       string(finalAction),
		RenderedText: renderedText,
		UXState:      uxState,
		RequestID:    reqID,
	}
	if renderErr != nil {
		ft, reason := translateFailure(renderErr)
		return resp, uxState, &ft, &reason
	}
	return resp, uxState, nil, nil
}

// render makes the single bounded model call, or returns the deterministic
// fallback when model calls are disabled. A provider failure feeds the
// circuit breaker; a verification failure does not (the provider answered,
// the content was unusable).
func (s *Server) render(ctx context.Context, op types.OutputPlan, res engine.Result) (string, error) {
	if s.caller == nil || !s.cfg.ModelCallsEnabled {
		return modelpipeline.Fallback(op), nil
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.ModelCallTimeoutMs)*time.Millisecond)
	defer cancel()

	text, err := modelpipeline.Render(callCtx, s.caller, modelpipeline.RenderInput{
		OutputPlan:  op,
		TaskSummary: taskSummary(res),
	})
	if s.brk != nil {
		if err != nil && strings.Contains(err.Error(), "PROVIDER_ERROR") {
			s.brk.RecordFailure()
		} else if err == nil {
			s.brk.RecordSuccess()
		}
	}
	return text, err
}

// taskSummary builds the bounded one-line task framing for the envelope from
// the refined decision content only — never raw request text.
func taskSummary(res engine.Result) string {
	summary := strings.TrimSpace(res.FinalState.Rationale)
	if summary == "" {
		summary = "respond to the user's request within the stated constraints"
	}
	summary = strings.ReplaceAll(summary, "\n", " ")
	if len(summary) > 400 {
		summary = summary[:400]
	}
	return summary
}

func uxStateFor(a types.Action) string {
	switch a {
	case types.ActionAskOneQuestion:
		return uxAwaitingClarification
	case types.ActionRefuse:
		return uxRefused
	case types.ActionClose:
		return uxClosed
	default:
		return uxAnswered
	}
}

// failClosed translates an internal pipeline error into a sanitized 500.
func (s *Server) failClosed(err error) (*chatResponse, string, *types.FailureType, *string, int) {
	ft, reason := translateFailure(err)
	return nil, uxFallback, &ft, &reason, http.StatusInternalServerError
}

// emitTelemetry publishes the structural TelemetryEvent for the recorder.
func (s *Server) emitTelemetry(reqID string, ds types.DecisionState, op types.OutputPlan, plan types.Plan, res engine.Result, deepThinkRan bool) {
	stop := types.StopReason("")
	if deepThinkRan {
		stop = res.StopReason
	}
	event := telemetry.BuildEvent(ds, op, plan.PassPlan, res.DeltaShapes, stop, res.ValidatorFailures, res.Downgraded, res.PassSummaries)
	s.publish(bus.StageRequestCompleted, reqID, event)
}

// emitChatSummary logs the §6 chat.summary structured record. Only structural
// fields ever appear here.
func (s *Server) emitChatSummary(reqID, subject string, status int, latency int64, resp *chatResponse, failureType *types.FailureType, failureReason *string) {
	action := types.Action("")
	if resp != nil {
		action = types.Action(resp.Action)
	}
	ev := telemetry.BuildChatSummary(reqID, subject, status, latency, action, failureType, failureReason, true)
	attrs := []any{
		"event", ev.Event,
		"request_id", ev.RequestID,
		"status_code", ev.StatusCode,
		"latency_ms", ev.LatencyMs,
		"action", string(ev.Action),
		"subject_id_hash", ev.SubjectIDHash,
		"sampled", ev.Sampled,
	}
	if ev.FailureType != nil {
		attrs = append(attrs, "failure_type", string(*ev.FailureType))
	}
	if ev.FailureReason != nil {
		attrs = append(attrs, "failure_reason", *ev.FailureReason)
	}
	slog.Info("chat.summary", attrs...)
}

// recallProximity reads the prior turn's proximity from the session store so
// the assembler's monotonicity rule can hold across turns.
func (s *Server) recallProximity(ctx context.Context, sessionID string) *types.ProximityState {
	if s.sessions == nil || sessionID == "" {
		return nil
	}
	var summary sessionstore.Summary
	ok, err := s.sessions.Get(ctx, sessionID, sessionstore.FieldSummary, &summary)
	if err != nil || !ok || summary.LastProximity == "" {
		return nil
	}
	p := types.ProximityState(summary.LastProximity)
	if p.Validate() != nil {
		return nil
	}
	return &p
}

// persistSession writes the bounded structural session summary for the next
// turn. Best-effort: errors are logged by the store, never surfaced.
func (s *Server) persistSession(sessionID string, ds types.DecisionState, resp *chatResponse, res engine.Result, deepThinkRan bool) {
	if s.sessions == nil || sessionID == "" || resp == nil {
		return
	}
	stop := ""
	if deepThinkRan {
		stop = string(res.StopReason)
	}
	var prev sessionstore.Summary
	_, _ = s.sessions.Get(context.Background(), sessionID, sessionstore.FieldSummary, &prev)
	_ = s.sessions.Set(sessionID, sessionstore.FieldSummary, sessionstore.Summary{
		LastAction:     resp.Action,
		LastStopReason: stop,
		LastProximity:  string(ds.ProximityState),
		TurnCount:      prev.TurnCount + 1,
	})
}

func (s *Server) entitlementTier(raw string) types.EntitlementTier {
	t := types.EntitlementTier(strings.ToUpper(strings.TrimSpace(raw)))
	if t.Validate() == nil {
		return t
	}
	fallback := types.EntitlementTier(s.cfg.DefaultEntitlementTier)
	if fallback.Validate() == nil {
		return fallback
	}
	return types.TierPro
}

// subjectID identifies the caller for rate limiting and the hashed telemetry
// subject: session id when present, else the remote IP.
func (s *Server) subjectID(r *http.Request, body chatRequest) string {
	if body.SessionID != "" {
		return body.SessionID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) publish(t bus.MessageType, reqID string, payload any) {
	if s.b == nil {
		return
	}
	s.b.Publish(bus.Message{Type: t, RequestID: reqID, Payload: payload})
}

// writeError emits the public error shape with a sanitized reason.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, ft types.FailureType, reason string, started time.Time) {
	reqID := requestID(r.Context())
	reason = truncateReason(redactSecrets(reason))
	w.Header().Set("X-UX-State", uxFallback)
	writeJSON(w, status, errorResponse{OK: false, FailureType: string(ft), FailureReason: reason, RequestID: reqID})
	ftCopy := ft
	s.emitChatSummary(reqID, s.subjectID(r, chatRequest{}), status, time.Since(started).Milliseconds(), nil, &ftCopy, &reason)
}
