package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/storage"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// JobQueue hands work to the workers and tracks it.
type JobQueue interface {
	DispatchRun(ctx context.Context, termID *int64) (*model.Job, error)
	DispatchRuleImport(ctx context.Context, s3Path string) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
}

type TermLookup interface {
	CurrentTerm(ctx context.Context) (model.Term, error)
}

type Handler struct {
	repo    db.Repository
	terms   TermLookup
	jobs    JobQueue
	storage storage.Storage
	cfg     *config.Config
	log     zerolog.Logger
}

// NewHandler builds the handler. store may be nil, in which case rule sheet
// paths are not checked before the import is queued.
func NewHandler(
	repo db.Repository,
	terms TermLookup,
	jobs JobQueue,
	store storage.Storage,
	cfg *config.Config,
) *Handler {
	return &Handler{
		repo:    repo,
		terms:   terms,
		jobs:    jobs,
		storage: store,
		cfg:     cfg,
		log:     logger.Component("api"),
	}
}

func (h *Handler) TriggerRun(c *gin.Context) {
	var req model.RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	ctx := c.Request.Context()
	if req.TermID != nil {
		if _, err := h.repo.GetTerm(ctx, *req.TermID); err != nil {
			if errors.Is(err, apperrors.ErrTermNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Term not found"})
				return
			}
			h.log.Error().Err(err).Int64("term_id", *req.TermID).Msg("Failed to load term")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	job, err := h.jobs.DispatchRun(ctx, req.TermID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue sync run"})
		return
	}

	h.log.Info().Str("job_id", job.ID).Msg("Sync run enqueued")
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Sync run queued successfully",
		"job":     job,
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.log.Error().Err(err).Str("job_id", c.Param("id")).Msg("Failed to load job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) ImportGradeRules(c *gin.Context) {
	var req model.RuleImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if h.storage != nil {
		ok, err := h.storage.Exists(ctx, req.S3Path)
		if err != nil {
			h.log.Error().Err(err).Str("s3_path", req.S3Path).Msg("Failed to check rule sheet")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule sheet not found"})
			return
		}
	}

	job, err := h.jobs.DispatchRuleImport(ctx, req.S3Path)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue rule import")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue rule import"})
		return
	}

	h.log.Info().Str("job_id", job.ID).Str("s3_path", req.S3Path).Msg("Rule import enqueued")
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Rule import queued successfully",
		"job":     job,
	})
}

func (h *Handler) ListGradeRules(c *gin.Context) {
	rules, err := h.repo.ListGradeRules(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list grade rules")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *Handler) GetCurrentTerm(c *gin.Context) {
	term, err := h.terms.CurrentTerm(c.Request.Context())
	if err != nil {
		if errors.Is(err, apperrors.ErrTermNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No current term"})
			return
		}
		h.log.Error().Err(err).Msg("Failed to resolve current term")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, term)
}

// GetTermGrades returns the grades of the term's latest record.
func (h *Handler) GetTermGrades(c *gin.Context) {
	termID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid term ID"})
		return
	}

	record, grades, err := h.repo.ListTermGrades(c.Request.Context(), termID)
	if err != nil {
		h.log.Error().Err(err).Int64("term_id", termID).Msg("Failed to list term grades")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Term has no grades yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record": record,
		"grades": grades,
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	})
}
