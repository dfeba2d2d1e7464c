package service

import (
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/pkg/database"
	"adaptive_engine_backend/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

// newTestDB 每个测试用独立的内存库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func createConcept(t *testing.T, db *gorm.DB, code string, tierMin, tierMax int) *model.Concept {
	t.Helper()
	c := &model.Concept{Code: code, Name: code, TierMin: tierMin, TierMax: tierMax, Enabled: true}
	require.NoError(t, db.Create(c).Error)
	return c
}

func createItem(t *testing.T, db *gorm.DB, conceptID uint, difficulty int, assessmentType, content string) *model.Item {
	t.Helper()
	item := &model.Item{
		ConceptID:      conceptID,
		Difficulty:     difficulty,
		AssessmentType: assessmentType,
		Content:        content,
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

func createResponse(t *testing.T, db *gorm.DB, resp *model.Response) *model.Response {
	t.Helper()
	require.NoError(t, db.Create(resp).Error)
	return resp
}

// stubGraph 固定先修集合的图谱替身
type stubGraph struct {
	prereqs []uint
	err     error
}

func (s *stubGraph) PrerequisitesOf(ctx context.Context, conceptID uint) ([]uint, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.prereqs, nil
}

// stubGenerator 固定文本的生成服务替身
type stubGenerator struct {
	text  string
	err   error
	calls int
}

func (s *stubGenerator) GenerateItemContent(ctx context.Context, conceptName string, difficulty int) (*ItemContent, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ItemContent{
		Text:    s.text,
		Options: json.RawMessage(`["A","B","C","D"]`),
	}, nil
}

var errGenerationDown = errors.New("generation service unreachable")

func daysAgo(n int) time.Time {
	return time.Now().AddDate(0, 0, -n)
}

func newRepos(db *gorm.DB) (*repository.ItemRepository, *repository.ResponseRepository, *repository.ConceptRepository) {
	return repository.NewItemRepository(db), repository.NewResponseRepository(db), repository.NewConceptRepository(db)
}
