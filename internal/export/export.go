package export

import (
	"encoding/json"
	"fmt"
	"time"

	"sessionrecorder/pkg/model"
)

// Document 导出文档
type Document struct {
	ExportDate  string        `json:"exportDate"`
	TotalEvents int           `json:"totalEvents"`
	Events      []model.Event `json:"events"`
}

// Build 以事件日志生成导出文档
func Build(events []model.Event, now time.Time) Document {
	if events == nil {
		events = []model.Event{}
	}
	return Document{
		ExportDate:  now.UTC().Format(model.TimeLayout),
		TotalEvents: len(events),
		Events:      events,
	}
}

// Marshal 缩进两个空格输出
func Marshal(doc Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return data, nil
}

// FileName 下载文件名
func FileName(now time.Time) string {
	return fmt.Sprintf("session-%d.json", now.UnixMilli())
}
