package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"promptory/internal/authz"
	"promptory/internal/metrics"
	"promptory/internal/middleware"
	"promptory/internal/utils"

	"github.com/gin-gonic/gin"
)

// maxBody caps mutation payloads.
const maxBody = 1 << 20

type Config struct {
	Registry *Registry
	Cache    *utils.QueryCache
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

type Server struct {
	registry *Registry
	cache    *utils.QueryCache
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	return &Server{
		registry: cfg.Registry,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

type envelope struct {
	Result *result `json:"result,omitempty"`
	Error  *Error  `json:"error,omitempty"`
}

type result struct {
	Data interface{} `json:"data"`
}

// Handle serves /api/rpc/:procedure.
func (s *Server) Handle(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("procedure"), "/")
	proc, ok := s.registry.Lookup(name)
	if !ok {
		s.fail(c, &Error{Code: CodeNotFound, Message: "no procedure " + strconv.Quote(name)})
		return
	}

	var input json.RawMessage
	switch {
	case proc.Kind == Query && c.Request.Method == http.MethodGet:
		if raw := c.Query("input"); raw != "" {
			input = json.RawMessage(raw)
		}
	case proc.Kind == Mutation && c.Request.Method == http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
		if err != nil {
			s.fail(c, &Error{Code: CodeBadRequest, Message: "could not read request body"})
			return
		}
		input = body
	default:
		s.fail(c, &Error{
			Code:    CodeMethodNotSupported,
			Message: proc.Kind.String() + " " + name + " does not accept " + c.Request.Method,
		})
		return
	}
	if len(input) > 0 && !json.Valid(input) {
		s.fail(c, &Error{Code: CodeBadRequest, Message: "input is not valid JSON"})
		return
	}

	data, err := s.Invoke(c.Request.Context(), middleware.CurrentIdentity(c), proc, input)
	if err != nil {
		rpcErr, internal := toError(err, proc.Kind)
		if internal {
			s.logger.Error("procedure failed", "procedure", name, "user", middleware.CurrentIdentity(c).UserID, "error", err)
		}
		s.fail(c, rpcErr)
		return
	}
	c.JSON(http.StatusOK, envelope{Result: &result{Data: data}})
}

func (s *Server) fail(c *gin.Context, e *Error) {
	c.AbortWithStatusJSON(e.Status(), envelope{Error: e})
}

// Invoke runs proc for who: capability check, cache lookup for queries, the
// handler itself, then invalidation for mutations.
func (s *Server) Invoke(ctx context.Context, who authz.Identity, proc Procedure, input json.RawMessage) (data interface{}, err error) {
	start := time.Now()
	if s.metrics != nil {
		defer func() {
			s.metrics.Record(proc.Name, time.Since(start), err != nil)
		}()
	}

	if proc.Require != nil {
		if err := authz.Require(who, *proc.Require); err != nil {
			return nil, err
		}
	}

	key := ""
	var gen uint64
	if s.cache != nil && proc.cacheable() {
		key = cacheKey(proc.Name, who, input)
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
		gen = s.cache.Generation(proc.Tables...)
	}

	data, err = proc.Handle(&Call{Ctx: ctx, Who: who, input: input})
	if err != nil {
		return nil, err
	}

	switch {
	case key != "":
		s.cache.SetAt(gen, key, data, proc.Tables...)
	case proc.Kind == Mutation && s.cache != nil:
		for _, t := range proc.Tables {
			s.cache.InvalidateTable(t)
		}
	}
	return data, nil
}

func cacheKey(name string, who authz.Identity, input json.RawMessage) string {
	viewer := who.UserID
	if who.Admin {
		viewer += "#admin"
	}
	return name + "|" + viewer + "|" + string(input)
}
