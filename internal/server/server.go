package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/copyleftdev/GLACIER/internal/aml"
	"github.com/copyleftdev/GLACIER/internal/aml/solver"
	"github.com/copyleftdev/GLACIER/internal/config"
	apperrors "github.com/copyleftdev/GLACIER/internal/errors"
)

var (
	modelsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glacier_models_created_total",
		Help: "Number of models created through the API.",
	})
	solvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glacier_solves_total",
		Help: "Number of completed solves by solver status.",
	}, []string{"status"})
	solveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "glacier_solve_duration_seconds",
		Help:    "Wall time of solver runs.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

// ModelState tracks one model and its solve lifecycle. The state is
// mutex-protected and can be accessed concurrently.
type ModelState struct {
	ID          string
	Status      string // "pending", "running", "completed", "failed", "cancelled"
	StartTime   time.Time
	EndTime     *time.Time
	CancelFunc  context.CancelFunc
	LastUpdated time.Time

	Model      *aml.Model
	varsByName map[string]*aml.Var
	consByName map[string]aml.GeneralConstraint
}

// Server implements the HTTP and JSON-RPC API of the modeling service: it
// builds models from JSON expression specs, runs the interior-point solver
// on them, and reports solution state.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	models   map[string]*ModelState
	modelsMu sync.RWMutex
	nextID   int
}

// NewServer creates a new server instance with the given config and logger
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		models: make(map[string]*ModelState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/models", s.handleCreateModel)
		r.Post("/models/{id}/solve", s.handleSolve)
		r.Get("/models/{id}", s.handleStatus)
		r.Delete("/models/{id}", s.handleDelete)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// varSpec, constraintSpec and modelSpec form the JSON wire format. An
// expression is a postfix token list: strings name variables, parameters or
// operators; numbers are constants.
type varSpec struct {
	Name  string   `json:"name"`
	Value float64  `json:"value"`
	LB    *float64 `json:"lb,omitempty"`
	UB    *float64 `json:"ub,omitempty"`
}

type branchSpec struct {
	Condition []interface{} `json:"condition,omitempty"`
	Expr      []interface{} `json:"expr"`
}

type constraintSpec struct {
	Name     string        `json:"name"`
	LB       *float64      `json:"lb,omitempty"`
	UB       *float64      `json:"ub,omitempty"`
	Expr     []interface{} `json:"expr,omitempty"`
	Branches []branchSpec  `json:"branches,omitempty"`
}

type modelSpec struct {
	Vars        []varSpec        `json:"vars"`
	Params      []varSpec        `json:"params,omitempty"`
	Objective   []interface{}    `json:"objective,omitempty"`
	Constraints []constraintSpec `json:"constraints,omitempty"`
}

// buildExpr assembles an expression from a postfix token list. Structure
// errors raised by the expression builders are recovered into plain errors.
func buildExpr(tokens []interface{}, vars map[string]*aml.Var, params map[string]*aml.Param) (expr aml.Expr, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*aml.Error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()

	var stack []aml.Expr
	pop := func() (aml.Expr, error) {
		if len(stack) == 0 {
			return nil, fmt.Errorf("malformed expression: operand stack underflow")
		}
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return e, nil
	}

	unaries := map[string]func(aml.Expr) aml.Expr{
		"neg": aml.Neg, "abs": aml.Abs, "sign": aml.Sign,
		"exp": aml.Exp, "log": aml.Log,
		"sin": aml.Sin, "cos": aml.Cos, "tan": aml.Tan,
		"asin": aml.Asin, "acos": aml.Acos, "atan": aml.Atan,
	}
	binaries := map[string]func(aml.Expr, aml.Expr) aml.Expr{
		"+": aml.Add, "-": aml.Sub, "*": aml.Mul, "/": aml.Div, "**": aml.Pow,
	}

	for _, tok := range tokens {
		switch t := tok.(type) {
		case float64:
			stack = append(stack, aml.NewFloat(t))
		case string:
			if fn, ok := binaries[t]; ok {
				b, err := pop()
				if err != nil {
					return nil, err
				}
				a, err := pop()
				if err != nil {
					return nil, err
				}
				stack = append(stack, fn(a, b))
				continue
			}
			if fn, ok := unaries[t]; ok {
				a, err := pop()
				if err != nil {
					return nil, err
				}
				stack = append(stack, fn(a))
				continue
			}
			if v, ok := vars[t]; ok {
				stack = append(stack, v)
				continue
			}
			if p, ok := params[t]; ok {
				stack = append(stack, p)
				continue
			}
			return nil, fmt.Errorf("unknown token %q", t)
		default:
			return nil, fmt.Errorf("invalid token type %T", tok)
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("malformed expression: %d operands left on stack", len(stack))
	}
	return stack[0], nil
}

func boundOr(b *float64, def float64) float64 {
	if b == nil {
		return def
	}
	return *b
}

// buildModel assembles an aml.Model from a spec.
func buildModel(spec *modelSpec) (*ModelState, error) {
	if len(spec.Vars) == 0 {
		return nil, fmt.Errorf("at least one variable is required")
	}

	m := aml.NewModel()
	state := &ModelState{
		Model:      m,
		varsByName: make(map[string]*aml.Var),
		consByName: make(map[string]aml.GeneralConstraint),
	}
	params := make(map[string]*aml.Param)

	for _, vs := range spec.Vars {
		if vs.Name == "" {
			return nil, fmt.Errorf("variables must be named")
		}
		if _, dup := state.varsByName[vs.Name]; dup {
			return nil, fmt.Errorf("duplicate variable %q", vs.Name)
		}
		v := aml.NewVar(vs.Value)
		v.Name = vs.Name
		v.LB = boundOr(vs.LB, -aml.Unbounded)
		v.UB = boundOr(vs.UB, aml.Unbounded)
		m.AddVar(v)
		state.varsByName[vs.Name] = v
	}
	for _, ps := range spec.Params {
		if ps.Name == "" {
			return nil, fmt.Errorf("parameters must be named")
		}
		p := aml.NewParam(ps.Value)
		p.Name = ps.Name
		params[ps.Name] = p
	}

	if len(spec.Objective) > 0 {
		expr, err := buildExpr(spec.Objective, state.varsByName, params)
		if err != nil {
			return nil, fmt.Errorf("objective: %w", err)
		}
		m.SetObjective(aml.NewObjective(expr))
	}

	for i, cs := range spec.Constraints {
		lb := boundOr(cs.LB, -aml.Unbounded)
		ub := boundOr(cs.UB, aml.Unbounded)
		name := cs.Name
		if name == "" {
			name = fmt.Sprintf("c%d", i)
		}
		switch {
		case len(cs.Branches) > 0:
			cc := aml.NewConditionalConstraint(lb, ub)
			cc.Name = name
			for j, br := range cs.Branches {
				body, err := buildExpr(br.Expr, state.varsByName, params)
				if err != nil {
					return nil, fmt.Errorf("constraint %q branch %d: %w", name, j, err)
				}
				if j < len(cs.Branches)-1 {
					if len(br.Condition) == 0 {
						return nil, fmt.Errorf("constraint %q branch %d: missing condition", name, j)
					}
					cond, err := buildExpr(br.Condition, state.varsByName, params)
					if err != nil {
						return nil, fmt.Errorf("constraint %q branch %d condition: %w", name, j, err)
					}
					cc.AddCondition(cond, body)
				} else {
					if len(br.Condition) != 0 {
						return nil, fmt.Errorf("constraint %q: the last branch is the else and takes no condition", name)
					}
					cc.AddFinalExpr(body)
				}
			}
			m.AddConstraint(cc)
			state.consByName[name] = cc
		case len(cs.Expr) > 0:
			expr, err := buildExpr(cs.Expr, state.varsByName, params)
			if err != nil {
				return nil, fmt.Errorf("constraint %q: %w", name, err)
			}
			c := aml.NewConstraint(expr, lb, ub)
			c.Name = name
			m.AddConstraint(c)
			state.consByName[name] = c
		default:
			return nil, fmt.Errorf("constraint %q: expr or branches required", name)
		}
	}
	return state, nil
}

// handleCreateModel handles POST /api/v1/models.
func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var spec modelSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		apperrors.JSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	state, err := buildModel(&spec)
	if err != nil {
		apperrors.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.registerModel(state)
	s.logger.Info("model created",
		zap.String("model_id", state.ID),
		zap.Int("vars", len(spec.Vars)),
		zap.Int("cons", len(spec.Constraints)),
	)

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"model_id": state.ID,
		"status":   state.Status,
	})
}

func (s *Server) registerModel(state *ModelState) {
	s.modelsMu.Lock()
	s.nextID++
	state.ID = fmt.Sprintf("model_%d", s.nextID)
	state.Status = "pending"
	state.StartTime = time.Now()
	state.LastUpdated = time.Now()
	s.models[state.ID] = state
	s.modelsMu.Unlock()
	modelsCreated.Inc()
}

// handleSolve handles POST /api/v1/models/{id}/solve.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.startSolve(id); err != nil {
		apperrors.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"model_id": id,
		"status":   "running",
	})
}

func (s *Server) startSolve(id string) error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	state, exists := s.models[id]
	if !exists {
		return fmt.Errorf("model not found")
	}
	if state.Status == "running" {
		return fmt.Errorf("solve already in progress")
	}

	ctx, cancel := context.WithCancel(context.Background())
	state.Status = "running"
	state.CancelFunc = cancel
	state.LastUpdated = time.Now()

	go s.runSolve(ctx, state)
	return nil
}

// runSolve executes the solver in a goroutine.
func (s *Server) runSolve(ctx context.Context, state *ModelState) {
	opts := solver.Options{
		Tolerance:           s.cfg.Solver.Tolerance,
		AcceptableTolerance: s.cfg.Solver.AcceptableTolerance,
		MaxIterations:       s.cfg.Solver.MaxIterations,
		MaxCPUTime:          s.cfg.Solver.MaxCPUTime,
	}
	solveLog := s.logger.With(zap.String("model_id", state.ID))

	start := time.Now()
	err := state.Model.SolveWith(ctx, opts, solveLog)
	solveDuration.Observe(time.Since(start).Seconds())

	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	if err != nil {
		solveLog.Error("solve failed", zap.Error(err))
		state.Status = "failed"
	} else if state.Status != "cancelled" {
		state.Status = "completed"
	}
	solvesTotal.WithLabelValues(state.Model.SolverStatus).Inc()

	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now
}

// handleStatus handles GET /api/v1/models/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.modelStatus(id)
	if err != nil {
		apperrors.JSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) modelStatus(id string) (map[string]interface{}, error) {
	s.modelsMu.RLock()
	defer s.modelsMu.RUnlock()

	state, exists := s.models[id]
	if !exists {
		return nil, fmt.Errorf("model not found")
	}

	response := map[string]interface{}{
		"status":      state.Status,
		"start_time":  state.StartTime.Format(time.RFC3339),
		"last_update": state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Model.SolverStatus != "" {
		response["solver_status"] = state.Model.SolverStatus
	}

	vars := make(map[string]interface{}, len(state.varsByName))
	for name, v := range state.varsByName {
		vars[name] = map[string]interface{}{
			"value":   v.Value(),
			"lb_dual": v.LBDual,
			"ub_dual": v.UBDual,
		}
	}
	response["vars"] = vars

	if obj := state.Model.Objective(); obj != nil && state.Model.SolverStatus != "" {
		val := obj.Value()
		if !math.IsNaN(val) && !math.IsInf(val, 0) {
			response["objective"] = val
		}
	}

	duals := make(map[string]interface{}, len(state.consByName))
	for name, c := range state.consByName {
		duals[name] = c.GetDual()
	}
	response["duals"] = duals

	return response, nil
}

// handleDelete handles DELETE /api/v1/models/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cancelModel(id, true); err != nil {
		apperrors.JSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) cancelModel(id string, remove bool) error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	state, exists := s.models[id]
	if !exists {
		return fmt.Errorf("model not found")
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}
	if state.Status == "running" {
		state.Status = "cancelled"
		now := time.Now()
		state.EndTime = &now
		state.LastUpdated = now
	}
	if remove {
		delete(s.models, id)
	}

	s.logger.Info("model removed", zap.String("model_id", id))
	return nil
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      interface{}   `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, -32700, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, -32600, "Invalid Request", nil)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "model.create":
		result, err = s.rpcCreate(request.Params)
	case "model.solve":
		result, err = s.rpcSolve(request.Params)
	case "model.status":
		result, err = s.rpcStatus(request.Params)
	case "model.cancel":
		err = s.rpcCancel(request.Params)
	default:
		s.respondWithError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, -32000, err.Error(), request.ID)
		return
	}

	// Send successful response
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func rpcParamMap(params []interface{}) (map[string]interface{}, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("missing required parameters")
	}
	paramMap, ok := params[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid parameter format, expected object")
	}
	return paramMap, nil
}

func rpcModelID(params []interface{}) (string, error) {
	paramMap, err := rpcParamMap(params)
	if err != nil {
		return "", err
	}
	id, ok := paramMap["model_id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("model_id is required")
	}
	return id, nil
}

func (s *Server) rpcCreate(params []interface{}) (interface{}, error) {
	paramMap, err := rpcParamMap(params)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(paramMap)
	if err != nil {
		return nil, err
	}
	var spec modelSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, err
	}
	state, err := buildModel(&spec)
	if err != nil {
		return nil, err
	}

	s.registerModel(state)
	return map[string]interface{}{"model_id": state.ID, "status": "pending"}, nil
}

func (s *Server) rpcSolve(params []interface{}) (interface{}, error) {
	id, err := rpcModelID(params)
	if err != nil {
		return nil, err
	}
	if err := s.startSolve(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"model_id": id, "status": "running"}, nil
}

func (s *Server) rpcStatus(params []interface{}) (interface{}, error) {
	id, err := rpcModelID(params)
	if err != nil {
		return nil, err
	}
	return s.modelStatus(id)
}

func (s *Server) rpcCancel(params []interface{}) error {
	id, err := rpcModelID(params)
	if err != nil {
		return err
	}
	return s.cancelModel(id, false)
}

// respondJSON writes a JSON response with the given status code.
func (s *Server) respondJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("rpc request failed",
		zap.Int("code", code),
		zap.String("message", message),
	)

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// Close cleans up resources
func (s *Server) Close() error {
	// Cancel all running solves
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	for _, state := range s.models {
		if state.CancelFunc != nil {
			state.CancelFunc()
		}
	}
	return nil
}
