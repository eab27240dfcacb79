package controller

import (
	"context"
	"errors"
	"io"
	"strconv"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/service"
	"pdarena/internal/common/http/middleware"
	"pdarena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ArenaService is the engine surface exposed over HTTP.
type ArenaService interface {
	ResolveTournament(ctx context.Context, tournamentID int64) (model.RunSummary, error)
	CreateSubmission(ctx context.Context, input service.CreateSubmissionInput) (service.SubmissionResult, error)
	CreateTestcaseRevision(ctx context.Context, input service.TestcaseRevisionInput) (model.TestcaseData, error)
	CreateTournament(ctx context.Context, input service.CreateTournamentInput) (service.TournamentResult, error)
	CreateTournamentDataRevision(ctx context.Context, input service.TournamentDataRevisionInput) (model.TournamentData, error)
	CreateTournamentSubmission(ctx context.Context, input service.CreateTournamentSubmissionInput) (model.TournamentSubmission, error)
	ViewMatchResolutions(ctx context.Context, filter model.MatchResolutionFilter) ([]model.MatchResolution, error)
	ViewTournamentData(ctx context.Context, tournamentID int64, onlyActive bool) ([]model.TournamentData, error)
	ViewSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error)
	ViewTournamentSubmissions(ctx context.Context, tournamentID int64, filter model.TournamentSubmissionFilter) ([]model.TournamentSubmission, error)
	ViewCompetingSubmissions(ctx context.Context, tournamentID int64) ([]int64, error)
}

// ArenaController handles arena HTTP endpoints.
type ArenaController struct {
	arena ArenaService
}

func NewArenaController(arena ArenaService) *ArenaController {
	return &ArenaController{arena: arena}
}

// Register mounts the arena routes on group.
func (h *ArenaController) Register(group *gin.RouterGroup) {
	group.POST("/submissions", h.CreateSubmission)
	group.GET("/submissions", h.ViewSubmissions)
	group.POST("/submissions/:id/testcase-data", h.CreateTestcaseRevision)
	group.POST("/tournaments", h.CreateTournament)
	group.POST("/tournaments/:id/data", h.CreateTournamentDataRevision)
	group.GET("/tournaments/:id/data", h.ViewTournamentData)
	group.POST("/tournaments/:id/submissions", h.CreateTournamentSubmission)
	group.GET("/tournaments/:id/submissions", h.ViewTournamentSubmissions)
	group.GET("/tournaments/:id/competing", h.ViewCompetingSubmissions)
	group.POST("/tournaments/:id/resolve", h.ResolveTournament)
	group.GET("/match-resolutions", h.ViewMatchResolutions)
}

// ResolveTournament runs a resolution synchronously and returns its summary.
func (h *ArenaController) ResolveTournament(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	summary, err := h.arena.ResolveTournament(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summary)
}

func (h *ArenaController) CreateSubmission(c *gin.Context) {
	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.arena.CreateSubmission(c.Request.Context(), service.CreateSubmissionInput{
		CreatorUserID: creatorID(c, req.CreatorUserID),
		Code:          req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *ArenaController) CreateTestcaseRevision(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req RevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	data, err := h.arena.CreateTestcaseRevision(c.Request.Context(), service.TestcaseRevisionInput{
		SubmissionID:  id,
		CreatorUserID: creatorID(c, req.CreatorUserID),
		Active:        req.Active,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, data)
}

func (h *ArenaController) CreateTournament(c *gin.Context) {
	var req TournamentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.arena.CreateTournament(c.Request.Context(), service.CreateTournamentInput{
		CreatorUserID: creatorID(c, req.CreatorUserID),
		Title:         req.Title,
		Description:   req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *ArenaController) CreateTournamentDataRevision(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req TournamentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	data, err := h.arena.CreateTournamentDataRevision(c.Request.Context(), service.TournamentDataRevisionInput{
		TournamentID:  id,
		CreatorUserID: creatorID(c, req.CreatorUserID),
		Title:         req.Title,
		Description:   req.Description,
		Active:        req.Active,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, data)
}

// ViewTournamentData lists revisions; ?active=true keeps only the active one.
func (h *ArenaController) ViewTournamentData(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	onlyActive, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))
	list, err := h.arena.ViewTournamentData(c.Request.Context(), id, onlyActive)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

func (h *ArenaController) CreateTournamentSubmission(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req EntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	entry, err := h.arena.CreateTournamentSubmission(c.Request.Context(), service.CreateTournamentSubmissionInput{
		TournamentID:  id,
		SubmissionID:  req.SubmissionID,
		CreatorUserID: creatorID(c, req.CreatorUserID),
		Kind:          req.Kind,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, entry)
}

// ViewMatchResolutions filters by repeated query params, e.g. ?submission_id=1&submission_id=2&round=3.
func (h *ArenaController) ViewMatchResolutions(c *gin.Context) {
	var filter model.MatchResolutionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	rows, err := h.arena.ViewMatchResolutions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rows)
}

func (h *ArenaController) ViewSubmissions(c *gin.Context) {
	var filter model.SubmissionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	list, err := h.arena.ViewSubmissions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

func (h *ArenaController) ViewTournamentSubmissions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var filter model.TournamentSubmissionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	list, err := h.arena.ViewTournamentSubmissions(c.Request.Context(), id, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// ViewCompetingSubmissions returns the ids the next resolution run would pair.
func (h *ArenaController) ViewCompetingSubmissions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ids, err := h.arena.ViewCompetingSubmissions(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ids)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid id")
		return 0, false
	}
	return id, true
}

// creatorID prefers the body value and falls back to the gateway's X-User-Id.
func creatorID(c *gin.Context, fromBody int64) int64 {
	if fromBody > 0 {
		return fromBody
	}
	id, _ := strconv.ParseInt(middleware.UserID(c), 10, 64)
	return id
}

// CreateSubmissionRequest defines submission payload.
type CreateSubmissionRequest struct {
	CreatorUserID int64  `json:"creator_user_id"`
	Code          string `json:"code" binding:"required"`
}

// RevisionRequest defines a TestcaseData revision payload. The body may be empty; Active defaults to true.
type RevisionRequest struct {
	CreatorUserID int64 `json:"creator_user_id"`
	Active        *bool `json:"active"`
}

// TournamentRequest defines tournament and TournamentData revision payloads.
type TournamentRequest struct {
	CreatorUserID int64  `json:"creator_user_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Active        *bool  `json:"active"`
}

// EntryRequest defines a tournament entry payload.
type EntryRequest struct {
	SubmissionID  int64  `json:"submission_id" binding:"required"`
	CreatorUserID int64  `json:"creator_user_id"`
	Kind          string `json:"kind"`
}
