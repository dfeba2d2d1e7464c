package controller

import (
	"adaptive_engine_backend/internal/service"
	"adaptive_engine_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type SessionController struct {
	SessionService *service.SessionService
}

func NewSessionController(sessionService *service.SessionService) *SessionController {
	return &SessionController{SessionService: sessionService}
}

// StartSessionRequest 开始自适应会话请求
// swagger:model StartSessionRequest
type StartSessionRequest struct {
	ConceptID uint `json:"conceptId" binding:"required"`
}

// StartSession godoc
// @Summary 开始自适应评估会话
// @Description 为当前学习者在指定概念上创建会话并下发第一题；已有未终止会话时续用
// @Tags 会话
// @Accept  json
// @Produce  json
// @Param   body body StartSessionRequest true "目标概念"
// @Success 201 {object} util.Response{data=service.StartSessionResult} "会话已创建"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 404 {object} util.Response "概念不存在"
// @Failure 409 {object} util.Response "概念题库为空"
// @Security BearerAuth
// @Router /api/sessions [post]
func (c *SessionController) StartSession(ctx *gin.Context) {
	var req StartSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	claims := util.GetUserFromContext(ctx)
	result, err := c.SessionService.StartSession(ctx.Request.Context(), claims.UserID, req.ConceptID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Created(ctx, result)
}

// SubmitResponse godoc
// @Summary 提交作答
// @Description 记录作答并推进会话：调整难度、更新能力估计、必要时下发诊断题或终止
// @Tags 会话
// @Accept  json
// @Produce  json
// @Param   id path string true "会话ID"
// @Param   body body service.SubmitRequest true "作答数据"
// @Success 200 {object} util.Response{data=service.SubmitResult} "处理完成"
// @Failure 400 {object} util.Response "请求参数错误或题目不属于本会话"
// @Failure 404 {object} util.Response "会话不存在"
// @Failure 409 {object} util.Response "会话已终止或正在处理另一提交"
// @Security BearerAuth
// @Router /api/sessions/{id}/responses [post]
func (c *SessionController) SubmitResponse(ctx *gin.Context) {
	var req service.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if req.ResponseID == "" {
		req.ResponseID = uuid.New().String()
	}

	claims := util.GetUserFromContext(ctx)
	result, err := c.SessionService.SubmitResponse(ctx.Request.Context(), claims.UserID, ctx.Param("id"), &req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Success(ctx, result)
}

// GetSession godoc
// @Summary 查询会话轨迹
// @Description 返回会话当前状态与完整作答轨迹
// @Tags 会话
// @Produce  json
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=model.AdaptiveSession}
// @Failure 404 {object} util.Response "会话不存在"
// @Security BearerAuth
// @Router /api/sessions/{id} [get]
func (c *SessionController) GetSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	session, err := c.SessionService.GetTrajectory(claims.UserID, ctx.Param("id"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Success(ctx, session)
}

// PauseSession godoc
// @Summary 暂停会话
// @Description 学习者显式暂停：终止会话，固化已积累的能力估计与轨迹
// @Tags 会话
// @Produce  json
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=model.AdaptiveSession} "会话已终止"
// @Failure 404 {object} util.Response "会话不存在"
// @Security BearerAuth
// @Router /api/sessions/{id}/pause [post]
func (c *SessionController) PauseSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	session, err := c.SessionService.Pause(ctx.Request.Context(), claims.UserID, ctx.Param("id"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Success(ctx, session)
}
