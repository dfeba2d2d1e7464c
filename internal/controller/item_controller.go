package controller

import (
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/service"
	"adaptive_engine_backend/internal/util"
	"adaptive_engine_backend/pkg/logger"
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ItemController struct {
	ItemRepo    *repository.ItemRepository
	ConceptRepo *repository.ConceptRepository
	ItemBank    *service.ItemBankService
	Classifier  service.TypeClassifier
}

func NewItemController(itemRepo *repository.ItemRepository, conceptRepo *repository.ConceptRepository, itemBank *service.ItemBankService, classifier service.TypeClassifier) *ItemController {
	return &ItemController{ItemRepo: itemRepo, ConceptRepo: conceptRepo, ItemBank: itemBank, Classifier: classifier}
}

// CreateItemRequest 题目登记请求
// swagger:model CreateItemRequest
type CreateItemRequest struct {
	ConceptID      uint            `json:"conceptId" binding:"required"`
	Difficulty     int             `json:"difficulty" binding:"min=0,max=100"`
	AssessmentType string          `json:"assessmentType"`
	Content        string          `json:"content"`
	Options        json.RawMessage `json:"options"`
}

// CreateItem godoc
// @Summary 登记题目
// @Description 向指定概念的题库登记一道题目；题干可留空，由生成服务按需补齐；
// @Description 题型标签缺省时交给外部分类服务
// @Tags 题库管理
// @Accept  json
// @Produce  json
// @Param   body body CreateItemRequest true "题目数据"
// @Success 201 {object} util.Response{data=model.Item}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 404 {object} util.Response "概念不存在"
// @Security BearerAuth
// @Router /api/admin/items [post]
func (c *ItemController) CreateItem(ctx *gin.Context) {
	var req CreateItemRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	concept, err := c.ConceptRepo.FindByID(req.ConceptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}

	assessmentType := req.AssessmentType
	if assessmentType == "" && req.Content != "" && c.Classifier != nil {
		// 分类服务故障不阻塞登记，标签留空待后续补齐
		if label, cerr := c.Classifier.ClassifyItem(ctx.Request.Context(), concept.Code, req.Content); cerr == nil {
			assessmentType = label
		} else {
			logger.Log.Warn("item type classification failed", zap.Error(cerr))
		}
	}

	item := &model.Item{
		ConceptID:      req.ConceptID,
		Difficulty:     util.ClampInt(req.Difficulty, 0, 100),
		AssessmentType: assessmentType,
		Content:        req.Content,
		Options:        req.Options,
	}
	if err := c.ItemRepo.Create(item); err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Created(ctx, item)
}

// ListItems godoc
// @Summary 查询概念题库
// @Description 分页返回指定概念下的题目
// @Tags 题库管理
// @Produce  json
// @Param   conceptId query int true "概念ID"
// @Param   page query int false "页码" default(1)
// @Param   limit query int false "每页条数" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Security BearerAuth
// @Router /api/admin/items [get]
func (c *ItemController) ListItems(ctx *gin.Context) {
	conceptID := util.MustParseUint(ctx.Query("conceptId"))
	if conceptID == 0 {
		util.BadRequest(ctx, "invalid concept id")
		return
	}

	page := int(util.MustParseUint(ctx.DefaultQuery("page", "1")))
	limit := int(util.MustParseUint(ctx.DefaultQuery("limit", "20")))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	items, total, err := c.ItemRepo.ListByConcept(conceptID, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: items, Total: total, Page: page, Limit: limit})
}

// GetItem godoc
// @Summary 查询单道题目
// @Tags 题库管理
// @Produce  json
// @Param   id path int true "题目ID"
// @Success 200 {object} util.Response{data=model.Item}
// @Failure 404 {object} util.Response "题目不存在"
// @Security BearerAuth
// @Router /api/admin/items/{id} [get]
func (c *ItemController) GetItem(ctx *gin.Context) {
	id := util.MustParseUint(ctx.Param("id"))
	if id == 0 {
		util.BadRequest(ctx, "invalid item id")
		return
	}

	item, err := c.ItemRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, item)
}

// RecalculateDiscrimination godoc
// @Summary 手动补算区分度
// @Description 对指定题目按点二列相关立即补算区分度，样本不足时不更新
// @Tags 题库管理
// @Produce  json
// @Param   id path int true "题目ID"
// @Success 200 {object} util.Response{data=model.Item}
// @Failure 404 {object} util.Response "题目不存在"
// @Security BearerAuth
// @Router /api/admin/items/{id}/discrimination [post]
func (c *ItemController) RecalculateDiscrimination(ctx *gin.Context) {
	id := util.MustParseUint(ctx.Param("id"))
	if id == 0 {
		util.BadRequest(ctx, "invalid item id")
		return
	}

	if err := c.ItemBank.RecalculateDiscrimination(id); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	item, err := c.ItemRepo.FindByID(id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}

	util.Success(ctx, item)
}
