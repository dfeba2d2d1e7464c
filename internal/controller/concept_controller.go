package controller

import (
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/util"
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ConceptController struct {
	ConceptRepo *repository.ConceptRepository
}

func NewConceptController(conceptRepo *repository.ConceptRepository) *ConceptController {
	return &ConceptController{ConceptRepo: conceptRepo}
}

// CreateConceptRequest 概念登记请求
// swagger:model CreateConceptRequest
type CreateConceptRequest struct {
	Code        string `json:"code" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	TierMin     int    `json:"tierMin" binding:"min=0,max=100"`
	TierMax     int    `json:"tierMax" binding:"min=0,max=100"`
}

// CreateConcept godoc
// @Summary 登记概念
// @Description 登记一个可评估概念及其掌握层级区间
// @Tags 概念管理
// @Accept  json
// @Produce  json
// @Param   body body CreateConceptRequest true "概念数据"
// @Success 201 {object} util.Response{data=model.Concept}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 409 {object} util.Response "编码已存在"
// @Security BearerAuth
// @Router /api/admin/concepts [post]
func (c *ConceptController) CreateConcept(ctx *gin.Context) {
	var req CreateConceptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if req.TierMin > req.TierMax {
		util.BadRequest(ctx, "tierMin must not exceed tierMax")
		return
	}

	if _, err := c.ConceptRepo.FindByCode(req.Code); err == nil {
		util.Conflict(ctx, "concept code already registered")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		util.LogInternalError(ctx, err)
		return
	}

	concept := &model.Concept{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		TierMin:     req.TierMin,
		TierMax:     req.TierMax,
		Enabled:     true,
	}
	if err := c.ConceptRepo.Create(concept); err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Created(ctx, concept)
}

// ListConcepts godoc
// @Summary 查询概念列表
// @Tags 概念管理
// @Produce  json
// @Param   page query int false "页码" default(1)
// @Param   limit query int false "每页条数" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Security BearerAuth
// @Router /api/concepts [get]
func (c *ConceptController) ListConcepts(ctx *gin.Context) {
	page := int(util.MustParseUint(ctx.DefaultQuery("page", "1")))
	limit := int(util.MustParseUint(ctx.DefaultQuery("limit", "20")))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	concepts, total, err := c.ConceptRepo.List(page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: concepts, Total: total, Page: page, Limit: limit})
}

// GetConcept godoc
// @Summary 查询单个概念
// @Tags 概念管理
// @Produce  json
// @Param   id path int true "概念ID"
// @Success 200 {object} util.Response{data=model.Concept}
// @Failure 404 {object} util.Response "概念不存在"
// @Security BearerAuth
// @Router /api/concepts/{id} [get]
func (c *ConceptController) GetConcept(ctx *gin.Context) {
	id := util.MustParseUint(ctx.Param("id"))
	if id == 0 {
		util.BadRequest(ctx, "invalid concept id")
		return
	}

	concept, err := c.ConceptRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, concept)
}
