package controller

import (
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/service"
	"adaptive_engine_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type MasteryController struct {
	MasteryService *service.MasteryService
	UserRepo       *repository.UserRepository
}

func NewMasteryController(masteryService *service.MasteryService, userRepo *repository.UserRepository) *MasteryController {
	return &MasteryController{MasteryService: masteryService, UserRepo: userRepo}
}

// GetMastery godoc
// @Summary 查询概念掌握状态
// @Description 返回当前学习者在指定概念上的掌握记录与五项判据达成情况
// @Tags 掌握校验
// @Produce  json
// @Param   conceptId path int true "概念ID"
// @Success 200 {object} util.Response{data=model.MasteryRecord}
// @Failure 404 {object} util.Response "概念不存在"
// @Security BearerAuth
// @Router /api/mastery/{conceptId} [get]
func (c *MasteryController) GetMastery(ctx *gin.Context) {
	conceptID := util.MustParseUint(ctx.Param("conceptId"))
	if conceptID == 0 {
		util.BadRequest(ctx, "invalid concept id")
		return
	}

	claims := util.GetUserFromContext(ctx)
	record, err := c.MasteryService.GetStatus(ctx.Request.Context(), claims.UserID, conceptID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Success(ctx, record)
}

// ResetMastery godoc
// @Summary 重置掌握记录
// @Description 显式重置学习者在指定概念上的掌握状态，仅管理员可用
// @Tags 掌握校验
// @Produce  json
// @Param   conceptId path int true "概念ID"
// @Param   learnerId query int true "学习者ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response "学习者或掌握记录不存在"
// @Security BearerAuth
// @Router /api/mastery/{conceptId}/reset [post]
func (c *MasteryController) ResetMastery(ctx *gin.Context) {
	conceptID := util.MustParseUint(ctx.Param("conceptId"))
	if conceptID == 0 {
		util.BadRequest(ctx, "invalid concept id")
		return
	}
	learnerID := util.MustParseUint(ctx.Query("learnerId"))
	if learnerID == 0 {
		util.BadRequest(ctx, "invalid learner id")
		return
	}
	if _, err := c.UserRepo.FindByID(learnerID); err != nil {
		util.HandleServiceError(ctx, util.ErrLearnerNotFound)
		return
	}

	if err := c.MasteryService.Reset(learnerID, conceptID); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"reset": true})
}
