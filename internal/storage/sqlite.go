package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"sessionrecorder/internal/logger"
	"sessionrecorder/pkg/model"
)

const appSettingsKey = "appSettings"

// EventRecord events 表，按 seq 保存快照中的顺序
type EventRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Seq       int    `gorm:"index;not null"`
	Type      string `gorm:"size:32;not null"`
	Timestamp string `gorm:"size:32"`
	Data      string `gorm:"not null"`
}

// SettingRecord settings 表，只有 appSettings 一条记录
type SettingRecord struct {
	Name string `gorm:"primaryKey;size:64"`
	Data string `gorm:"not null"`
}

// SQLStore 基于 GORM + SQLite 的持久化存储
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite 打开 SQLite 数据库并迁移表结构
func OpenSQLite(dsn, prefix string, l logger.Logger) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:  prefix,
			NameReplacer: strings.NewReplacer("Record", ""),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite 单写者
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&EventRecord{}, &SettingRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close 关闭底层连接
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load 读取镜像中的事件（按保存顺序）与配置
func (s *SQLStore) Load(ctx context.Context) ([]model.Event, *model.Settings, error) {
	var rows []EventRecord
	if err := s.db.WithContext(ctx).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	events := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		var ev model.Event
		if err := json.Unmarshal([]byte(r.Data), &ev); err != nil {
			return nil, nil, fmt.Errorf("decode event %s: %w", r.ID, err)
		}
		events = append(events, ev)
	}

	var rec SettingRecord
	err := s.db.WithContext(ctx).First(&rec, "name = ?", appSettingsKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return events, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	var settings model.Settings
	if err := json.Unmarshal([]byte(rec.Data), &settings); err != nil {
		return nil, nil, fmt.Errorf("decode settings: %w", err)
	}
	return events, &settings, nil
}

// Mirror 在一个事务内清空事件表并按顺序重写，同时更新配置记录
func (s *SQLStore) Mirror(ctx context.Context, events []model.Event, settings *model.Settings) error {
	rows := make([]EventRecord, 0, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		rows = append(rows, EventRecord{
			ID:        ev.ID,
			Seq:       i,
			Type:      string(ev.Type),
			Timestamp: ev.Timestamp.UTC().Format(model.TimeLayout),
			Data:      string(data),
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&EventRecord{}).Error; err != nil {
			return fmt.Errorf("clear events: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 100).Error; err != nil {
				return fmt.Errorf("insert events: %w", err)
			}
		}
		if settings == nil {
			return nil
		}
		data, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		rec := SettingRecord{Name: appSettingsKey, Data: string(data)}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		return nil
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
