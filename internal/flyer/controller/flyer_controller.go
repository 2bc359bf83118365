package controller

import (
	"errors"
	"strconv"

	"eventflyer/internal/flyer/model"
	"eventflyer/internal/flyer/naming"
	"eventflyer/internal/flyer/repository"
	"eventflyer/internal/flyer/service"
	apperrors "eventflyer/pkg/errors"
	pkgrepo "eventflyer/pkg/repository"
	"eventflyer/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// FlyerController exposes event listing and manual flyer operations.
type FlyerController struct {
	repo          repository.EventRepository
	attach        *service.AttachService
	scheduler     *service.CleanupScheduler
	defaultBucket string
}

func NewFlyerController(repo repository.EventRepository, attach *service.AttachService, scheduler *service.CleanupScheduler, defaultBucket string) *FlyerController {
	return &FlyerController{
		repo:          repo,
		attach:        attach,
		scheduler:     scheduler,
		defaultBucket: defaultBucket,
	}
}

// Register mounts the routes under group. operator runs ahead of the manual
// flyer operations only.
func (h *FlyerController) Register(group *gin.RouterGroup, operator ...gin.HandlerFunc) {
	group.GET("/events", h.ListEvents)
	group.GET("/events/:id", h.GetEvent)
	group.POST("/flyers/cleanup:run", chain(operator, h.RunCleanup)...)
	group.POST("/flyers:attach", chain(operator, h.Attach)...)
}

func chain(mw []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	return append(append(out, mw...), handler)
}

// ListEvents handles GET /events?offset=&limit=.
func (h *FlyerController) ListEvents(c *gin.Context) {
	offset, err := queryInt(c, "offset")
	if err != nil {
		response.BadRequest(c, "Invalid offset")
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.BadRequest(c, "Invalid limit")
		return
	}
	opts := pkgrepo.ListOptions{Offset: offset, Limit: limit}.Normalize()

	events, err := h.repo.List(c.Request.Context(), opts)
	if err != nil {
		response.Error(c, apperrors.Wrap(err, apperrors.DatabaseError))
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	response.SuccessWithPagination(c, events, opts.Offset, opts.Limit)
}

// GetEvent handles GET /events/:id.
func (h *FlyerController) GetEvent(c *gin.Context) {
	event, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			response.Error(c, apperrors.New(apperrors.EventNotFound))
			return
		}
		response.Error(c, apperrors.Wrap(err, apperrors.DatabaseError))
		return
	}
	response.Success(c, event)
}

// RunCleanup handles POST /flyers/cleanup:run.
func (h *FlyerController) RunCleanup(c *gin.Context) {
	report, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrSweepInProgress) {
			response.Error(c, apperrors.New(apperrors.CleanupInProgress))
			return
		}
		response.Error(c, apperrors.Wrap(err, apperrors.FlyerCleanupFailed))
		return
	}
	response.Success(c, report)
}

// Attach handles POST /flyers:attach.
func (h *FlyerController) Attach(c *gin.Context) {
	var req AttachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if req.Bucket == "" {
		req.Bucket = h.defaultBucket
	}
	if req.Bucket == "" {
		response.BadRequest(c, "bucket is required")
		return
	}

	result, err := h.attach.AttachExisting(c.Request.Context(), req.Bucket, req.Name, req.ContentType)
	if err != nil {
		response.Error(c, err)
		return
	}
	resp := AttachResponse{Result: result}
	if id, err := naming.EventIDFromObjectName(req.Name); err == nil {
		resp.EventID = id
	}
	response.Success(c, resp)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
