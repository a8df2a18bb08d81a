package handler

import (
	"strconv"

	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// ListAuditLogs 审计日志，最新在前
// GET /api/v1/logs?entity=Transaction&entity_id=12&page=1
func (h *Handler) ListAuditLogs(c *gin.Context) {
	entity := c.Query("entity")

	if raw := c.Query("entity_id"); raw != "" {
		entityID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || entity == "" {
			response.ParamError(c, "entity_id 需要配合 entity 使用")
			return
		}
		logs, err := h.auditService.ListForEntity(c.Request.Context(), entity, entityID)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, logs)
		return
	}

	page, pageSize := parsePage(c)
	logs, total, err := h.auditService.List(c.Request.Context(), entity, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPage(c, logs, total, page, pageSize)
}
