package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// eventBase 事件公共字段的线上结构
type eventBase struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	Timestamp       string    `json:"timestamp"`
	Description     string    `json:"description"`
	URL             string    `json:"url"`
	Screenshot      string    `json:"screenshot,omitempty"`
	ScreenshotError string    `json:"screenshotError,omitempty"`
}

// MarshalJSON 将载荷字段平铺到事件对象上
func (e Event) MarshalJSON() ([]byte, error) {
	out, err := json.Marshal(eventBase{
		ID:              e.ID,
		Type:            e.Type,
		Timestamp:       e.Timestamp.UTC().Format(TimeLayout),
		Description:     e.Description,
		URL:             e.URL,
		Screenshot:      e.Screenshot,
		ScreenshotError: e.ScreenshotError,
	})
	if err != nil || e.Payload == nil {
		return out, err
	}

	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		out, err = sjson.SetRawBytes(out, key.String(), []byte(value.Raw))
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("flatten %s payload: %w", e.Type, err)
	}
	return out, nil
}

// UnmarshalJSON 根据 type 字段选择载荷类型进行解码
func (e *Event) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid event json")
	}
	var base eventBase
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	if !base.Type.Valid() {
		return fmt.Errorf("event %s: unknown type %q", base.ID, base.Type)
	}
	ts, err := parseTimestamp(base.Timestamp)
	if err != nil {
		return fmt.Errorf("event %s: %w", base.ID, err)
	}

	*e = Event{
		ID:              base.ID,
		Type:            base.Type,
		Timestamp:       ts,
		Description:     base.Description,
		URL:             base.URL,
		Screenshot:      base.Screenshot,
		ScreenshotError: base.ScreenshotError,
	}

	p := NewPayload(base.Type)
	if p == nil {
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", base.Type, err)
	}
	e.Payload = derefPayload(p)
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(TimeLayout, s); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return ts.UTC(), nil
}

func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *ClickPayload:
		return *v
	case *KeyPayload:
		return *v
	case *InputCommitPayload:
		return *v
	case *FormSubmitPayload:
		return *v
	case *NavigationPayload:
		return *v
	case *SiteInputPayload:
		return *v
	case *TabPayload:
		return *v
	}
	return p
}
