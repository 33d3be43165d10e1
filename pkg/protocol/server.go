package protocol

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/targetd/pkg/driver"
	"github.com/openfroyo/targetd/pkg/engineerr"
	"github.com/openfroyo/targetd/pkg/store"
	"github.com/openfroyo/targetd/pkg/target"
	"github.com/openfroyo/targetd/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Token is an authorized client credential: a name paired with an
// opaque secret drawn from the alphabet A-Za-z0-9_=- (§6).
type Token struct {
	Name   string
	Secret string
}

// Config carries the listener and policy knobs of §6.
type Config struct {
	ListenAddress       string
	TLSCertFile         string
	TLSKeyFile          string
	Tokens              []Token
	ReadOnly            bool
	ReturnErrorMessages bool
	MaxBlockingTime     time.Duration
	DeferIfLarger       int
	Database            string
}

// Server dispatches Up_messages against the store and driver over
// HTTP/JSON, enforcing token auth and the read-only gate (§6).
type Server struct {
	cfg      Config
	store    store.Store
	drv      *driver.Driver
	policy   AdmissionPolicy
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	tokens   map[string]string
}

// New builds a Server. policy and metrics may be nil.
func New(cfg Config, st store.Store, drv *driver.Driver, policy AdmissionPolicy, metrics *telemetry.Metrics, logger zerolog.Logger) *Server {
	tokens := make(map[string]string, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens[t.Name] = t.Secret
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		drv:     drv,
		policy:  policy,
		metrics: metrics,
		logger:  logger.With().Str("component", "protocol.server").Logger(),
		tokens:  tokens,
	}
}

// ListenAndServe starts the HTTP(S) server, blocking until ctx is
// cancelled or a fatal listener error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)

	srv := &http.Server{
		Addr:    s.cfg.ListenAddress,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
			srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authenticate(r) {
		s.writeError(w, errorDown(string(engineerr.AuthError), "invalid or missing token", s.cfg.ReturnErrorMessages))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		s.writeError(w, errorDown(string(engineerr.ProtocolError), "failed to read request body", s.cfg.ReturnErrorMessages))
		return
	}

	msg, err := DecodeUp(body)
	if err != nil {
		s.writeError(w, errorDown(string(engineerr.ProtocolError), err.Error(), s.cfg.ReturnErrorMessages))
		return
	}

	resp := s.Dispatch(r.Context(), msg)
	s.writeResponse(w, resp)
}

func (s *Server) authenticate(r *http.Request) bool {
	if len(s.tokens) == 0 {
		return true
	}
	name := r.Header.Get("X-Auth-Name")
	secret := r.Header.Get("X-Auth-Token")
	want, ok := s.tokens[name]
	return ok && want == secret
}

func (s *Server) writeResponse(w http.ResponseWriter, resp DownMessage) {
	body, err := EncodeDown(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, resp DownMessage) {
	s.writeResponse(w, resp)
}

// mutatesState reports whether an up message would mutate the target
// graph, so read_only mode can reject it (§6, §7).
func mutatesState(t UpType) bool {
	switch t {
	case UpSubmitTargets, UpKillTargets, UpRestartTargets:
		return true
	default:
		return false
	}
}

// Dispatch routes a single UpMessage to its handler and returns the
// resulting DownMessage. It never returns an error itself; failures
// are folded into a Down_error message per §7.
func (s *Server) Dispatch(ctx context.Context, msg UpMessage) DownMessage {
	if s.cfg.ReadOnly && mutatesState(msg.Type) {
		return errorDown(string(engineerr.ProtocolError), "server is in read-only mode", true)
	}

	switch msg.Type {
	case UpGetTargets:
		return s.handleGetTargets(ctx, msg.Params)
	case UpGetTargetSummaries:
		return s.handleGetTargetSummaries(ctx, msg.Params)
	case UpGetTargetFlatStates:
		return s.handleGetTargetFlatStates(ctx, msg.Params)
	case UpGetAvailableQueries:
		return down(DownQueryResult, QueryResult{Result: json.RawMessage(`{"names":[]}`)})
	case UpCallQuery:
		return down(DownQueryResult, QueryResult{Error: "no named queries are registered"})
	case UpSubmitTargets:
		return s.handleSubmitTargets(ctx, msg.Params)
	case UpKillTargets:
		return s.handleKillTargets(ctx, msg.Params)
	case UpRestartTargets:
		return s.handleRestartTargets(ctx, msg.Params)
	case UpGetTargetIDs:
		return s.handleGetTargetIDs(ctx, msg.Params)
	case UpGetServerStatus:
		return s.handleGetServerStatus(ctx)
	case UpGetDeferred:
		return s.handleGetDeferred(ctx, msg.Params)
	case UpProcess:
		return errorDown(string(engineerr.ProtocolError), "process subprotocol not available on this server", true)
	default:
		return errorDown(string(engineerr.ProtocolError), "unknown message type", true)
	}
}

func (s *Server) errDown(err error) DownMessage {
	kind := string(engineerr.KindOf(err))
	if kind == "" {
		kind = string(engineerr.Fatal)
	}
	return errorDown(kind, err.Error(), s.cfg.ReturnErrorMessages)
}

func decodeParams[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (s *Server) handleGetTargets(ctx context.Context, raw json.RawMessage) DownMessage {
	params, err := decodeParams[GetTargetsParams](raw)
	if err != nil {
		return s.errDown(engineerr.Wrap(engineerr.ProtocolError, "decode params", err))
	}
	if len(params.IDs) == 0 {
		all, err := s.store.IterAll(ctx)
		if err != nil {
			return s.errDown(err)
		}
		return down(DownListOfTargets, ListOfTargetsResult{Targets: all})
	}
	targets := make([]*target.Target, 0, len(params.IDs))
	for _, id := range params.IDs {
		t, err := s.store.Get(ctx, id)
		if err != nil {
			continue
		}
		targets = append(targets, t)
	}
	return down(DownListOfTargets, ListOfTargetsResult{Targets: targets})
}

func (s *Server) handleGetTargetSummaries(ctx context.Context, raw json.RawMessage) DownMessage {
	params, err := decodeParams[GetTargetsParams](raw)
	if err != nil {
		return s.errDown(engineerr.Wrap(engineerr.ProtocolError, "decode params", err))
	}
	summaries := make([]TargetSummary, 0, len(params.IDs))
	for _, id := range params.IDs {
		t, err := s.store.Get(ctx, id)
		if err != nil {
			continue
		}
		summaries = append(summaries, TargetSummary{
			ID:       t.ID,
			Name:     t.Name,
			Tags:     t.Tags,
			State:    t.Current().Kind,
			Attempts: t.Attempts,
			Metadata: t.Metadata,
		})
	}
	return down(DownListOfTargetSummaries, ListOfTargetSummariesResult{Summaries: summaries})
}

func (s *Server) handleGetTargetFlatStates(ctx context.Context, raw json.RawMessage) DownMessage {
	params, err := decodeParams[GetTargetFlatStatesParams](raw)
	if err != nil {
		return s.errDown(engineerr.Wrap(engineerr.ProtocolError, "decode params", err))
	}

	collect := func() ([]TargetFlatState, error) {
		var pool []*target.Target
		var err error
		if len(params.IDs) > 0 {
			for _, id := range params.IDs {
				t, gerr := s.store.Get(ctx, id)
				if gerr != nil {
					continue
				}
				pool = append(pool, t)
			}
		} else {
			pool, err = s.store.IterAll(ctx)
			if err != nil {
				return nil, err
			}
		}
		since := time.Unix(0, params.Since.Since)
		var out []TargetFlatState
		for _, t := range pool {
			if !params.Since.All && t.Current().Timestamp.Before(since) {
				continue
			}
			out = append(out, TargetFlatState{ID: t.ID, State: t.Current()})
		}
		return out, nil
	}

	states, err := collect()
	if err != nil {
		return s.errDown(err)
	}

	if len(states) == 0 && params.BlockIfEmptyAtMost > 0 && s.drv != nil {
		deadline := time.Duration(params.BlockIfEmptyAtMost) * time.Millisecond
		if s.cfg.MaxBlockingTime > 0 && deadline > s.cfg.MaxBlockingTime {
			deadline = s.cfg.MaxBlockingTime
		}
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		for len(states) == 0 {
			select {
			case <-s.drv.Notify():
				states, err = collect()
				if err != nil {
					return s.errDown(err)
				}
			case <-timer.C:
				return down(DownListOfTargetFlatStates, ListOfTargetFlatStatesResult{States: states})
			case <-ctx.Done():
				return down(DownListOfTargetFlatStates, ListOfTargetFlatStatesResult{States: states})
			}
		}
	}

	return down(DownListOfTargetFlatStates, ListOfTargetFlatStatesResult{States: states})
}

func (s *Server) handleSubmitTargets(ctx context.Context, raw json.RawMessage) DownMessage {
	params, err := decodeParams[SubmitTargetsParams](raw)
	if err != nil {
		return s.errDown(engineerr.Wrap(engineerr.ProtocolError, "decode params", err))
	}
	mapping, err := SubmitTargets(ctx, s.store, s.policy, activatorAdapter{s.drv}, params.Targets)
	if err != nil {
		return s.errDown(err)
	}
	return down(DownOk, SubmitTargetsResult{IDMapping: mapping})
}

type activatorAdapter struct {
	drv *driver.Driver
}

func (a activatorAdapter) Activate(ctx context.Context, id, cause string) error {
	if a.drv == nil {
		return nil
	}
	return a.drv.Activate(ctx, id, cause)
}

func (s *Server) handleKillTargets(ctx context.Context, raw json.RawMessage) DownMessage {
	params, err := decodeParams[KillTargetsParams](raw)
	if err != nil {
		return s.errDown(engineerr.Wrap(engineerr.ProtocolError, "decode params", err))
	}
	if s.drv != nil {
		for _, id := range params.IDs {
			s.drv.RequestKill(id)
		}
	}
	return down(DownOk, struct{}{})
}

func (s *Server) handleRestartTargets(ctx context.Context, raw json.RawMessage) DownMessage {
	params, err := decodeParams[RestartTargetsParams](raw)
	if err != nil {
		return s.errDown(engineerr.Wrap(engineerr.ProtocolError, "decode params", err))
	}
	mapping := make(map[string]string, len(params.IDs))
	for _, id := range params.IDs {
		t, err := s.store.Get(ctx, id)
		if err != nil {
			return s.errDown(err)
		}
		if !t.Current().Kind.IsTerminal() {
			return s.errDown(engineerr.New(engineerr.ProtocolError, "restart_targets requires a terminal target").WithTarget(id))
		}
		fresh := target.NewPassive(uuid.New().String(), t.BuildProcess)
		fresh.Name = t.Name
		fresh.Tags = t.Tags
		fresh.Metadata = t.Metadata
		fresh.Dependencies = t.Dependencies
		fresh.IfFailsActivate = t.IfFailsActivate
		fresh.Equivalence = t.Equivalence
		fresh.Condition = t.Condition
		if err := s.store.Put(ctx, fresh); err != nil {
			return s.errDown(err)
		}
		if s.drv != nil {
			if err := s.drv.Activate(ctx, fresh.ID, "restart"); err != nil {
				return s.errDown(err)
			}
		}
		mapping[id] = fresh.ID
	}
	return down(DownOk, RestartTargetsResult{IDMapping: mapping})
}

func (s *Server) handleGetTargetIDs(ctx context.Context, raw json.RawMessage) DownMessage {
	params, err := decodeParams[GetTargetIDsParams](raw)
	if err != nil {
		return s.errDown(engineerr.Wrap(engineerr.ProtocolError, "decode params", err))
	}
	all, err := s.store.IterAll(ctx)
	if err != nil {
		return s.errDown(err)
	}
	ids := params.Query.Select(all)

	threshold := params.DeferIfLarger
	if threshold <= 0 {
		threshold = s.cfg.DeferIfLarger
	}
	if threshold > 0 && len(ids) > threshold {
		token := uuid.New().String()
		if err := s.store.PutDeferred(ctx, token, ids); err != nil {
			return s.errDown(err)
		}
		return down(DownDeferredListOfTargetIDs, DeferredListOfTargetIDsResult{Token: token, Total: len(ids)})
	}
	return down(DownListOfTargetIDs, ListOfTargetIDsResult{IDs: ids})
}

func (s *Server) handleGetDeferred(ctx context.Context, raw json.RawMessage) DownMessage {
	params, err := decodeParams[GetDeferredParams](raw)
	if err != nil {
		return s.errDown(engineerr.Wrap(engineerr.ProtocolError, "decode params", err))
	}
	ids, ok, err := s.store.TakeDeferred(ctx, params.Token)
	if err != nil {
		return s.errDown(err)
	}
	if !ok {
		return down(DownMissingDeferred, struct{}{})
	}
	start := params.Index
	if start < 0 {
		start = 0
	}
	if start > len(ids) {
		start = len(ids)
	}
	end := start + params.Length
	if params.Length <= 0 || end > len(ids) {
		end = len(ids)
	}
	return down(DownListOfTargetIDs, ListOfTargetIDsResult{IDs: ids[start:end]})
}

func (s *Server) handleGetServerStatus(ctx context.Context) DownMessage {
	status := BuildServerStatus(ctx, s.store, s.cfg)
	return down(DownServerStatus, status)
}
