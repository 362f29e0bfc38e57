package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Settings 录制配置，整体替换，不做字段级修改
type Settings struct {
	SkipPasswords      bool     `json:"skipPasswords"`
	ScreenshotThrottle int64    `json:"screenshotThrottle"` // 毫秒
	DenylistDomains    []string `json:"denylistDomains"`
	DenylistSelectors  []string `json:"denylistSelectors"`
}

// DefaultSettings 默认配置
func DefaultSettings() Settings {
	return Settings{
		SkipPasswords:      true,
		ScreenshotThrottle: 700,
		DenylistDomains:    []string{},
		DenylistSelectors:  []string{},
	}
}

// Throttle 截图最小间隔
func (s Settings) Throttle() time.Duration {
	return time.Duration(s.ScreenshotThrottle) * time.Millisecond
}

// Clone 深拷贝，避免切片底层数组共享
func (s Settings) Clone() Settings {
	s.DenylistDomains = slices.Clone(s.DenylistDomains)
	s.DenylistSelectors = slices.Clone(s.DenylistSelectors)
	return s
}

// Merge 以浅覆盖方式合并 JSON 补丁，补丁中缺失的字段保持原值
func (s Settings) Merge(patch json.RawMessage) (Settings, error) {
	next := s.Clone()
	if len(patch) == 0 {
		return next, nil
	}
	if err := json.Unmarshal(patch, &next); err != nil {
		return s, fmt.Errorf("merge settings: %w", err)
	}
	if next.ScreenshotThrottle < 0 {
		return s, fmt.Errorf("merge settings: screenshotThrottle must not be negative")
	}
	if next.DenylistDomains == nil {
		next.DenylistDomains = []string{}
	}
	if next.DenylistSelectors == nil {
		next.DenylistSelectors = []string{}
	}
	return next, nil
}
