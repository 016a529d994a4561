package videos

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/coursekit/coursekit/pkg/apperror"
)

// HTTPHandler exposes the synchronous surface of the pipeline: ingest,
// status polling, playback URLs and the admin approval cascade.
type HTTPHandler struct {
	service *Service
	catalog Catalog
}

func NewHTTPHandler(service *Service, catalog Catalog) *HTTPHandler {
	return &HTTPHandler{service: service, catalog: catalog}
}

func RegisterRoutes(e *echo.Echo, h *HTTPHandler) {
	api := e.Group("/api")
	api.POST("/courses/:courseId/sections/:sectionId/videos", h.HandleIngest)
	api.PUT("/courses/:courseId/approval", h.HandleApproval)
	api.GET("/videos/:videoId/status", h.HandleStatus)
	api.GET("/videos/:videoId/playback-url", h.HandlePlaybackURL)
}

// HandleIngest accepts a multipart source upload. The response returns
// as soon as the metadata commit and enqueue succeed; the client polls
// the status endpoint while the workers finish the pipeline.
func (h *HTTPHandler) HandleIngest(c echo.Context) error {
	title := c.FormValue("title")
	if title == "" {
		return apperror.NewBadRequest("title is required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apperror.NewBadRequest("video file is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return apperror.NewInternal("failed to read upload", err)
	}
	defer src.Close()

	asset, err := h.service.Ingest(c.Request().Context(), IngestRequest{
		CourseID:  c.Param("courseId"),
		SectionID: c.Param("sectionId"),
		Title:     title,
		Filename:  fileHeader.Filename,
		Source:    src,
		Size:      fileHeader.Size,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, asset)
}

type approvalRequest struct {
	Status ApprovalStatus `json:"status"`
}

// HandleApproval cascades an admin decision to every video of a course.
func (h *HTTPHandler) HandleApproval(c echo.Context) error {
	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid approval body")
	}
	if req.Status != ApprovalStatusApproved && req.Status != ApprovalStatusRejected {
		return apperror.NewBadRequest("status must be approved or rejected")
	}

	updated, err := h.catalog.SetCourseApproval(c.Request().Context(), c.Param("courseId"), req.Status)
	if err != nil {
		return apperror.NewInternal("failed to update approval status", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"courseId":      c.Param("courseId"),
		"status":        req.Status,
		"updatedVideos": updated,
	})
}

func (h *HTTPHandler) HandleStatus(c echo.Context) error {
	asset, err := h.catalog.Video(c.Request().Context(), c.Param("videoId"))
	if err != nil {
		return apperror.NewInternal("failed to load video", err)
	}
	if asset == nil {
		return apperror.ErrVideoNotFound
	}
	return c.JSON(http.StatusOK, map[string]any{
		"videoId":        asset.ID,
		"processStatus":  asset.ProcessStatus,
		"approvalStatus": asset.ApprovalStatus,
	})
}

func (h *HTTPHandler) HandlePlaybackURL(c echo.Context) error {
	ctx := c.Request().Context()
	asset, err := h.catalog.Video(ctx, c.Param("videoId"))
	if err != nil {
		return apperror.NewInternal("failed to load video", err)
	}
	if asset == nil {
		return apperror.ErrVideoNotFound
	}

	url, err := h.service.PlaybackURL(ctx, asset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}
