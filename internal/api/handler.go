// Package api exposes the analysis pipeline and policy over HTTP with gin.
package api

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"notechart/app"
	"notechart/domain/core"
	"notechart/domain/policy"
	"notechart/internal/errors"
	"notechart/internal/inference"
	"notechart/internal/insight"
	"notechart/internal/logger"
)

// Analyzer runs one analysis
type Analyzer interface {
	Analyze(ctx context.Context, req app.AnalysisRequest) (*app.AnalysisResult, error)
}

// PolicyReloader re-reads the policy file
type PolicyReloader interface {
	Path() string
	Reload() (*policy.Policy, error)
}

// Handler serves the versioned API
type Handler struct {
	analyses Analyzer
	policies *policy.Store
	reloader PolicyReloader
	log      *logger.Logger
}

// NewHandler creates the API handler. reloader may be nil when no policy file is configured.
func NewHandler(analyses Analyzer, policies *policy.Store, reloader PolicyReloader, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{analyses: analyses, policies: policies, reloader: reloader, log: log.Component("api")}
}

// analysisBody is the JSON body of an analysis request; the notebook comes from the path
type analysisBody struct {
	NoteIDs       []string                 `json:"note_ids"`
	Range         core.TimeRange           `json:"range"`
	ChartType     string                   `json:"chart_type"`
	MissingFields []inference.MissingField `json:"missing_fields"`
	Refresh       bool                     `json:"refresh"`
}

// CreateAnalysis runs the pipeline for a notebook. The body is optional;
// ?format=html answers with the rendered insight digest instead of JSON.
func (h *Handler) CreateAnalysis(c *gin.Context) {
	var body analysisBody
	if err := c.ShouldBindJSON(&body); err != nil && !stderrors.Is(err, io.EOF) {
		h.fail(c, errors.Wrap(core.ErrInvalidRequest, "malformed request body: "+err.Error()))
		return
	}

	result, err := h.analyses.Analyze(c.Request.Context(), app.AnalysisRequest{
		NotebookID:    c.Param("id"),
		NoteIDs:       body.NoteIDs,
		Range:         body.Range,
		ChartType:     body.ChartType,
		MissingFields: body.MissingFields,
		Refresh:       body.Refresh,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if c.Query("format") == "html" {
		c.Data(http.StatusOK, "text/html; charset=utf-8",
			insight.HTML(result.NotebookID, result.Primary.CoreQuestion, result.Insights))
		return
	}
	status := http.StatusCreated
	if result.Cached {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// GetPolicy returns the active policy document
func (h *Handler) GetPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, h.policies.Current())
}

// ReloadPolicy re-reads the policy file and swaps it in
func (h *Handler) ReloadPolicy(c *gin.Context) {
	if h.reloader == nil || h.reloader.Path() == "" {
		h.fail(c, errors.ConfigInvalid("no policy file configured"))
		return
	}
	p, err := h.reloader.Reload()
	if err != nil {
		h.fail(c, &errors.AppError{Code: errors.CodeConfigInvalid, Message: "policy reload rejected", Cause: err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": p.Version, "path": h.reloader.Path()})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	code := errors.GetCode(err)
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		status, code = http.StatusServiceUnavailable, "BUSY"
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "code", code, "error", err)
	} else {
		h.log.Debug("request rejected", "path", c.FullPath(), "code", code, "error", err)
	}
	c.AbortWithStatusJSON(status, errorBody{Error: err.Error(), Code: code})
}
