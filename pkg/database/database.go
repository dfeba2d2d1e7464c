package database

import (
	"adaptive_engine_backend/internal/config"
	"adaptive_engine_backend/internal/model"
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	return db, nil
}

// Migrate 建表并写入默认概念，测试中也用于内存 sqlite
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Concept{},
		&model.Item{},
		&model.Response{},
		&model.MasteryRecord{},
		&model.AdaptiveSession{},
	)
	if err != nil {
		return err
	}

	// 默认概念（为空时插入，便于本地联调）
	var count int64
	db.Model(&model.Concept{}).Count(&count)
	if count == 0 {
		defaultConcepts := []model.Concept{
			{Code: "cardiac-cycle", Name: "心动周期", Description: "心脏收缩与舒张的完整周期", TierMin: 40, TierMax: 80, Enabled: true},
			{Code: "blood-pressure", Name: "血压", Description: "动脉血压的形成与调节", TierMin: 30, TierMax: 70, Enabled: true},
			{Code: "heart-anatomy", Name: "心脏解剖", Description: "心腔、瓣膜与大血管", TierMin: 20, TierMax: 60, Enabled: true},
		}
		for _, c := range defaultConcepts {
			db.Create(&c)
		}
	}

	return nil
}
