package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"sessionrecorder/pkg/model"
)

func setupSQLite(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.sqlite3")
	s, err := OpenSQLite(dsn, "test_", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEvents(n int) []model.Event {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]model.Event, n)
	for i := range out {
		out[i] = model.Event{
			ID:          fmt.Sprintf("ev-%03d", n-i), // ids sort opposite to log order
			Type:        model.TypeClick,
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Description: fmt.Sprintf("Clicked on button %d", i),
			URL:         "https://example.com/",
			Payload:     model.ClickPayload{Element: "button", Coordinates: model.Coordinates{X: i, Y: i * 2}},
		}
	}
	return out
}

func TestSQLStoreMirrorRoundTrip(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	events := sampleEvents(5)
	settings := model.DefaultSettings()
	settings.DenylistDomains = []string{"bank.example"}
	if err := s.Mirror(ctx, events, &settings); err != nil {
		t.Fatalf("mirror: %v", err)
	}

	gotEvents, gotSettings, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(gotEvents, events) {
		t.Fatalf("events differ:\n got %#v\nwant %#v", gotEvents, events)
	}
	if gotSettings == nil || !reflect.DeepEqual(*gotSettings, settings) {
		t.Fatalf("settings = %#v", gotSettings)
	}
}

func TestSQLStoreMirrorReplacesPreviousSnapshot(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	if err := s.Mirror(ctx, sampleEvents(4), nil); err != nil {
		t.Fatalf("first mirror: %v", err)
	}
	second := sampleEvents(2)
	second[0].ID = "fresh-1"
	second[1].ID = "fresh-2"
	settings := model.DefaultSettings()
	if err := s.Mirror(ctx, second, &settings); err != nil {
		t.Fatalf("second mirror: %v", err)
	}
	settings.ScreenshotThrottle = 2000
	if err := s.Mirror(ctx, second, &settings); err != nil {
		t.Fatalf("third mirror: %v", err)
	}

	got, gotSettings, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "fresh-1" || got[1].ID != "fresh-2" {
		t.Fatalf("expected only the latest snapshot, got %v", got)
	}
	if gotSettings.ScreenshotThrottle != 2000 {
		t.Fatalf("settings not upserted: %#v", gotSettings)
	}

	if err := s.Mirror(ctx, nil, nil); err != nil {
		t.Fatalf("empty mirror: %v", err)
	}
	got, _, err = s.Load(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty log, got %v (err %v)", got, err)
	}
}

func TestSQLStoreLoadEmpty(t *testing.T) {
	s := setupSQLite(t)
	events, settings, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 0 || settings != nil {
		t.Fatalf("expected empty store, got %v %v", events, settings)
	}
}
