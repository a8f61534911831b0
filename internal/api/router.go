package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/storage"
)

// SnapshotSource returns the latest published snapshot, or nil before the
// first run.
type SnapshotSource interface {
	Latest(ctx context.Context) (*domain.Snapshot, []byte, error)
}

// HistorySource lists archived runs.
type HistorySource interface {
	List(ctx context.Context, limit int) ([]storage.SnapshotRecord, error)
}

type Server struct {
	snapshots SnapshotSource
	history   HistorySource
}

// NewServer builds the read-only API. history may be nil.
func NewServer(snapshots SnapshotSource, history HistorySource) *Server {
	return &Server{snapshots: snapshots, history: history}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/snapshot", s.getSnapshot)
		v1.GET("/items", s.listItems)
		v1.GET("/sources", s.listSources)
		v1.GET("/history", s.listHistory)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// latest writes the error response itself and returns ok=false when the
// handler should stop.
func (s *Server) latest(c *gin.Context) (*domain.Snapshot, []byte, bool) {
	snap, raw, err := s.snapshots.Latest(c.Request.Context())
	if err != nil {
		internalError(c)
		return nil, nil, false
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_found",
			"message": "no snapshot published yet",
		})
		return nil, nil, false
	}
	return snap, raw, true
}

func (s *Server) getSnapshot(c *gin.Context) {
	_, raw, ok := s.latest(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (s *Server) listItems(c *gin.Context) {
	snap, _, ok := s.latest(c)
	if !ok {
		return
	}
	state := strings.ToUpper(c.Query("state"))
	category := c.Query("category")
	kind := c.Query("kind")
	limit := queryLimit(c, 100, len(snap.Items))

	items := make([]domain.ClassifiedItem, 0, limit)
	for _, it := range snap.Items {
		if len(items) >= limit {
			break
		}
		if state != "" && it.State != state {
			continue
		}
		if kind != "" && it.Kind != kind {
			continue
		}
		if category != "" && !hasCategory(it, category) {
			continue
		}
		items = append(items, it)
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

func (s *Server) listSources(c *gin.Context) {
	snap, _, ok := s.latest(c)
	if !ok {
		return
	}
	summary := ""
	if snap.Stats != nil {
		summary = snap.Stats.Summary
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data": gin.H{
			"generatedAt": snap.GeneratedAt,
			"summary":     summary,
			"failed":      snap.FailedSources(),
			"sources":     snap.SourceHealth,
		},
	})
}

func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_configured",
			"message": "snapshot history is not enabled",
		})
		return
	}
	records, err := s.history.List(c.Request.Context(), queryLimit(c, 20, 100))
	if err != nil {
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    records,
	})
}

func hasCategory(it domain.ClassifiedItem, category string) bool {
	for _, c := range it.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}

// BasicAuth puts a single shared password in front of the dashboard API.
// It is a courtesy gate, not access control. /health stays open for probes.
func BasicAuth(user, pass string) gin.HandlerFunc {
	const realm = "NECMIS"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
