package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/markerlab/ragserve/internal/chunk"
	"github.com/markerlab/ragserve/internal/rag"
	"github.com/markerlab/ragserve/internal/ragerr"
)

type indexRequest struct {
	FilePath      string `json:"file_path"`
	ClearExisting bool   `json:"clear_existing"`
}

type indexResponse struct {
	Status        string `json:"status"`
	Filename      string `json:"filename"`
	ChunksCreated int    `json:"chunks_created"`
	Message       string `json:"message"`
}

type queryRequest struct {
	Query         string `json:"query"`
	TopK          int    `json:"top_k"`
	IncludeChunks bool   `json:"include_chunks"`
}

// writeError maps coded errors onto HTTP statuses with the wire shape
// {"detail": ...}.
func (s *Server) writeError(c *gin.Context, err error) {
	status := ragerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.Request.URL.Path,
			"request_id", c.GetString(requestIDKey),
			"error", err)
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.svc.Health(c.Request.Context())
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.svc.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Config().Get())
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.writeError(c, ragerr.Wrap(ragerr.CodeInvalidInput, err))
		return
	}
	snap, err := s.svc.Config().Update(patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.svc.Config().Save(snap.VectorDBPath); err != nil {
		s.logger.Warn("config updated but not persisted", "error", err)
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleIndex(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, ragerr.Wrap(ragerr.CodeInvalidInput, err))
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		s.writeError(c, ragerr.Validation("file_path is required"))
		return
	}

	kind, err := kindFromPath(req.FilePath)
	if err != nil {
		s.writeError(c, err)
		return
	}

	content, err := os.ReadFile(req.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(c, ragerr.Newf(ragerr.CodeFileNotFound, "file not found: %s", req.FilePath))
			return
		}
		s.writeError(c, ragerr.Wrap(ragerr.CodeStoreFailed, err))
		return
	}

	docID := filepath.Base(req.FilePath)
	report, err := s.svc.Index(c.Request.Context(), docID, string(content), kind, req.ClearExisting)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, indexResponse{
		Status:        "success",
		Filename:      docID,
		ChunksCreated: report.ChunksCreated,
		Message:       "document indexed",
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, ragerr.Wrap(ragerr.CodeInvalidInput, err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(c, ragerr.New(ragerr.CodeQueryEmpty, "query must not be empty", nil))
		return
	}
	if req.TopK < 0 || req.TopK > 20 {
		s.writeError(c, ragerr.Validationf("top_k must be between 1 and 20, got %d", req.TopK))
		return
	}

	result, err := s.svc.Answer(c.Request.Context(), req.Query, rag.Options{
		TopK:          req.TopK,
		IncludeChunks: req.IncludeChunks,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleClear(c *gin.Context) {
	if err := s.svc.Clear(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "vector store cleared",
	})
}

// kindFromPath maps a file extension to a document kind.
func kindFromPath(path string) (chunk.Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return chunk.KindMarkdown, nil
	case ".json":
		return chunk.KindJSONBlocks, nil
	default:
		return "", ragerr.Validationf("unsupported file type %q, want .md, .markdown or .json", filepath.Ext(path))
	}
}
