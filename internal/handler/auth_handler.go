package handler

import (
	"posledger/internal/service"
	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Passcode string `json:"passcode"` // 员工快捷登录码
}

// Login 登录
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Username == "" && req.Passcode == "" {
		response.ParamError(c, "username 或 passcode 不能为空")
		return
	}

	result, err := h.personService.Login(c.Request.Context(), &service.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		Passcode: req.Passcode,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}
