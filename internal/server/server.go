package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agenthands/consolidator/internal/core"
	"github.com/agenthands/consolidator/internal/core/model"
)

type Server struct {
	Engine *core.Engine
	logger *zap.Logger
}

func New(engine *core.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Engine: engine, logger: logger.Named("http")}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.Health)
	r.POST("/decide", s.Decide)
	r.POST("/merge", s.Merge)
	r.POST("/ingest", s.Ingest)
	r.PUT("/documents/:id/embedding", s.Reindex)
	r.DELETE("/documents/:id/embedding", s.RemoveEmbedding)
	r.GET("/documents/:id/history", s.History)
	r.POST("/index/snapshot", s.Snapshot)
	r.GET("/index/communities", s.Communities)

	return r
}

type CandidateRequest struct {
	Content   string   `json:"content"`
	Topics    []string `json:"topics"`
	Questions []string `json:"questions"`
}

func (r CandidateRequest) candidate() model.Candidate {
	return model.Candidate{Content: r.Content, Topics: r.Topics, Questions: r.Questions}
}

type MergeRequest struct {
	Decision model.Decision `json:"decision"`
	Content  string         `json:"content"`
	Strategy string         `json:"strategy"`
}

type IngestRequest struct {
	CandidateRequest
	Strategy string `json:"strategy"`
}

type ReindexRequest struct {
	Vector []float32 `json:"vector"`
}

func (s *Server) Decide(c *gin.Context) {
	var req CandidateRequest
	if !s.bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, s.Engine.Decide(c.Request.Context(), req.candidate()))
}

func (s *Server) Merge(c *gin.Context) {
	var req MergeRequest
	if !s.bind(c, &req) {
		return
	}
	strategy, ok := s.strategy(c, req.Strategy)
	if !ok {
		return
	}

	out, err := s.Engine.Merge(c.Request.Context(), req.Decision, req.Content, strategy)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) Ingest(c *gin.Context) {
	var req IngestRequest
	if !s.bind(c, &req) {
		return
	}
	strategy, ok := s.strategy(c, req.Strategy)
	if !ok {
		return
	}

	res, err := s.Engine.Ingest(c.Request.Context(), req.candidate(), strategy)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) Reindex(c *gin.Context) {
	var req ReindexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	id := c.Param("id")
	version, err := s.Engine.Reindex(c.Request.Context(), id, req.Vector)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "version": version})
}

func (s *Server) RemoveEmbedding(c *gin.Context) {
	if err := s.Engine.Remove(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) History(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	revs, err := s.Engine.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if revs == nil {
		revs = []model.Revision{}
	}
	c.JSON(http.StatusOK, gin.H{"revisions": revs})
}

func (s *Server) Snapshot(c *gin.Context) {
	if err := s.Engine.Checkpoint(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	idx := s.Engine.Index()
	c.JSON(http.StatusOK, gin.H{"version": idx.Version(), "records": idx.Len()})
}

func (s *Server) Communities(c *gin.Context) {
	var minSim *float64
	if v, ok := c.GetQuery("min_similarity"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_similarity must be a number"})
			return
		}
		minSim = &f
	}
	groups, err := s.Engine.Communities(c.Request.Context(), minSim)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"communities": groups})
}

func (s *Server) Health(c *gin.Context) {
	idx := s.Engine.Index()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"index": gin.H{
			"records":   idx.Len(),
			"version":   idx.Version(),
			"strategy":  idx.StrategyName(),
			"dimension": idx.Dimension(),
		},
	})
}

// bind decodes the body and rejects requests without content.
func (s *Server) bind(c *gin.Context, req interface{ body() string }) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return false
	}
	if strings.TrimSpace(req.body()) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return false
	}
	return true
}

func (r *CandidateRequest) body() string { return r.Content }
func (r *MergeRequest) body() string     { return r.Content }

func (s *Server) strategy(c *gin.Context, v string) (model.Strategy, bool) {
	if v == "" {
		return "", true
	}
	st, err := model.ParseStrategy(v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return st, true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrStaleTarget):
		return http.StatusConflict
	case errors.Is(err, model.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidStrategy),
		errors.Is(err, model.ErrNothingToMerge),
		errors.Is(err, model.ErrInvalidDecision),
		errors.Is(err, model.ErrDimensionMismatch),
		errors.Is(err, model.ErrInvalidVector),
		errors.Is(err, model.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
