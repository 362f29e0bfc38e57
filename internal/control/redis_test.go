package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sessionrecorder/pkg/api"
	"sessionrecorder/pkg/model"
)

type fakeService struct {
	mu      sync.Mutex
	started int
	stopped int
	patch   string
	clears  int
}

func (f *fakeService) StartRecording(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}

func (f *fakeService) StopRecording(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeService) Recording(context.Context) (bool, error) { return false, nil }

func (f *fakeService) UpdateSettings(_ context.Context, patch json.RawMessage) (model.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patch = string(patch)
	return model.DefaultSettings().Merge(patch)
}

func (f *fakeService) Settings(context.Context) (model.Settings, error) {
	return model.DefaultSettings(), nil
}

func (f *fakeService) CaptureScreenshot(_ context.Context, id model.ContextID) (string, error) {
	if id == "gone" {
		return "", errors.New("no such context")
	}
	return "data:image/jpeg;base64,AA==", nil
}

func (f *fakeService) Events(context.Context) ([]model.Event, error) { return nil, nil }

func (f *fakeService) ClearEvents(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func TestServerDispatchesAndReplies(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replies := rc.Subscribe(ctx, ReplyChannel("rec"))
	defer replies.Close()
	if _, err := replies.Receive(ctx); err != nil {
		t.Fatalf("subscribe replies: %v", err)
	}
	replyCh := replies.Channel()

	svc := &fakeService{}
	srv := NewServer(rc, svc, "rec", nil)
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()

	// 等待服务端订阅生效
	deadline := time.Now().Add(2 * time.Second)
	for rc.PubSubNumSub(ctx, Channel("rec")).Val()[Channel("rec")] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	next := func() api.Response {
		t.Helper()
		select {
		case msg := <-replyCh:
			var resp api.Response
			if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
				t.Fatalf("decode reply: %v", err)
			}
			return resp
		case <-time.After(2 * time.Second):
			t.Fatal("no reply")
		}
		return api.Response{}
	}

	if err := Send(ctx, rc, "rec", api.Message{ID: "m1", Action: api.ActionStartRecording}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp := next(); !resp.OK || resp.ID != "m1" {
		t.Fatalf("start reply = %+v", resp)
	}

	_ = Send(ctx, rc, "rec", api.Message{ID: "m2", Action: api.ActionUpdateSettings, Settings: json.RawMessage(`{"screenshotThrottle":900}`)})
	if resp := next(); !resp.OK || resp.Settings == nil || resp.Settings.ScreenshotThrottle != 900 {
		t.Fatalf("update reply = %+v", resp)
	}

	_ = Send(ctx, rc, "rec", api.Message{ID: "m3", Action: api.ActionCaptureScreenshot, ContextID: "gone"})
	if resp := next(); resp.OK || resp.Error == "" {
		t.Fatalf("capture reply = %+v", resp)
	}

	if err := rc.Publish(ctx, Channel("rec"), "not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if resp := next(); resp.OK || resp.Error == "" {
		t.Fatalf("malformed reply = %+v", resp)
	}

	_ = Send(ctx, rc, "rec", api.Message{Action: api.ActionStopRecording})
	next()

	svc.mu.Lock()
	if svc.started != 1 || svc.stopped != 1 || svc.patch != `{"screenshotThrottle":900}` {
		t.Fatalf("service calls: %+v", svc)
	}
	svc.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit")
	}
}
