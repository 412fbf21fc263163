package bom

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	bomModel "bomsync/internal/model/bom"
	"bomsync/internal/model/system"
	"bomsync/internal/pkg/logger"
	"bomsync/internal/pkg/utils"
	"bomsync/internal/service/bom/importer"
	"bomsync/internal/service/bom/queue"

	"github.com/gin-gonic/gin"
)

// ImportService 导入受理与状态查询
type ImportService interface {
	EnqueueImport(ctx context.Context, req importer.EnqueueRequest) (*importer.EnqueueResult, error)
	GetJobStatus(ctx context.Context, projectID uint64) (*bomModel.ImportStatus, error)
}

// ImportHandler BOM导入控制器
type ImportHandler struct {
	service ImportService
}

// NewImportHandler 创建控制器实例
func NewImportHandler(service ImportService) *ImportHandler {
	return &ImportHandler{service: service}
}

// enqueueBody 导入请求体，全部字段可选
type enqueueBody struct {
	Operator          uint64 `json:"operator"`
	Force             bool   `json:"force"`
	UploadFingerprint string `json:"upload_fingerprint"`
	ObjectKey         string `json:"object_key"`
}

// EnqueueImport 受理项目BOM导入
// POST /api/v1/projects/:project_id/bom/import
func (h *ImportHandler) EnqueueImport(c *gin.Context) {
	clientIP := utils.GetClientIP(c)
	requestID := utils.GetRequestID(c)
	urlPath := c.Request.URL.String()

	projectID, ok := parseProjectID(c)
	if !ok {
		return
	}

	var body enqueueBody
	// 请求体可选；分块传输的空请求体 ContentLength 为 -1，按空处理
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, system.APIResponse{
				Code:    http.StatusBadRequest,
				Status:  "failed",
				Message: "invalid request body",
				Error:   err.Error(),
			})
			return
		}
	}
	if body.Operator == 0 {
		body.Operator = utils.GetOperatorID(c)
	}

	result, err := h.service.EnqueueImport(c.Request.Context(), importer.EnqueueRequest{
		ProjectID:         projectID,
		Operator:          body.Operator,
		Force:             body.Force,
		UploadFingerprint: body.UploadFingerprint,
		ObjectKey:         body.ObjectKey,
	})
	if err != nil {
		code, message := enqueueErrorStatus(err)
		if code >= http.StatusInternalServerError {
			logger.LogError(err, requestID, body.Operator, clientIP, urlPath, "POST", map[string]interface{}{
				"operation":  "enqueue_import",
				"project_id": projectID,
			})
		} else {
			logger.LogWarn(message, requestID, body.Operator, clientIP, urlPath, "POST", map[string]interface{}{
				"project_id": projectID,
				"error":      err.Error(),
			})
		}
		c.JSON(code, system.APIResponse{
			Code:    code,
			Status:  "failed",
			Message: message,
			Error:   err.Error(),
		})
		return
	}

	if result.Skipped {
		c.JSON(http.StatusOK, system.APIResponse{
			Code:    http.StatusOK,
			Status:  "success",
			Message: "bom unchanged, import skipped",
			Data:    result,
		})
		return
	}

	logger.LogInfo("import job queued", requestID, body.Operator, clientIP, urlPath, "POST", map[string]interface{}{
		"project_id": projectID,
		"job_id":     result.JobID,
	})
	c.JSON(http.StatusAccepted, system.APIResponse{
		Code:    http.StatusAccepted,
		Status:  "success",
		Message: "import job queued",
		Data:    result,
	})
}

// GetImportStatus 查询项目导入状态
// GET /api/v1/projects/:project_id/bom/import/status
func (h *ImportHandler) GetImportStatus(c *gin.Context) {
	clientIP := utils.GetClientIP(c)
	requestID := utils.GetRequestID(c)
	urlPath := c.Request.URL.String()

	projectID, ok := parseProjectID(c)
	if !ok {
		return
	}

	status, err := h.service.GetJobStatus(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, importer.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, system.APIResponse{
				Code:    http.StatusNotFound,
				Status:  "failed",
				Message: "no import job for project",
			})
			return
		}
		logger.LogError(err, requestID, utils.GetOperatorID(c), clientIP, urlPath, "GET", map[string]interface{}{
			"operation":  "get_import_status",
			"project_id": projectID,
		})
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "failed",
			Message: "failed to get import status",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "success",
		Data:    status,
	})
}

func parseProjectID(c *gin.Context) (uint64, bool) {
	projectID, err := strconv.ParseUint(c.Param("project_id"), 10, 64)
	if err != nil || projectID == 0 {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "failed",
			Message: "invalid project id",
		})
		return 0, false
	}
	return projectID, true
}

func enqueueErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, importer.ErrInvalidObjectKey):
		return http.StatusBadRequest, "invalid object key"
	case errors.Is(err, bomModel.ErrImportInProgress):
		return http.StatusConflict, "import already in progress"
	case errors.Is(err, bomModel.ErrSourceUnavailable):
		return http.StatusNotFound, "bom file not found"
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable, "import queue unavailable"
	default:
		return http.StatusInternalServerError, "failed to enqueue import"
	}
}
