package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sessionrecorder/internal/ctxkeys"
	"sessionrecorder/internal/logger"
	"sessionrecorder/pkg/api"
)

// Channel 控制消息频道
func Channel(prefix string) string { return prefix + ":control" }

// ReplyChannel 应答频道
func ReplyChannel(prefix string) string { return prefix + ":control:reply" }

// Server 通过 Redis 发布订阅接收控制消息
type Server struct {
	rc      *redis.Client
	svc     api.Service
	channel string
	reply   string
	log     logger.Logger
	retry   time.Duration
}

// NewServer 创建控制消息服务
func NewServer(rc *redis.Client, svc api.Service, prefix string, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	return &Server{
		rc:      rc,
		svc:     svc,
		channel: Channel(prefix),
		reply:   ReplyChannel(prefix),
		log:     l.With("channel", Channel(prefix)),
		retry:   time.Second,
	}
}

// Run 订阅控制频道直到 ctx 结束，频道断开后重连
func (s *Server) Run(ctx context.Context) {
	for {
		s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("控制频道已关闭，稍后重连")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retry):
		}
	}
}

func (s *Server) consume(ctx context.Context) {
	sub := s.rc.Subscribe(ctx, s.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			s.log.Err(err, "订阅控制频道失败")
		}
		return
	}
	s.log.Info("控制频道已订阅")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Server) handle(ctx context.Context, payload string) {
	ctx = ctxkeys.WithTraceID(ctx)
	var resp api.Response
	var msg api.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		s.log.Warn("控制消息格式错误", "error", err.Error())
		resp = api.Response{Error: fmt.Sprintf("decode message: %v", err)}
	} else {
		s.log.Debug("收到控制消息", "action", string(msg.Action), "traceId", ctxkeys.TraceID(ctx))
		resp = api.Dispatch(ctx, s.svc, msg)
		if !resp.OK {
			s.log.Warn("控制消息执行失败", "action", string(msg.Action), "error", resp.Error)
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Err(err, "编码应答失败")
		return
	}
	if err := s.rc.Publish(ctx, s.reply, data).Err(); err != nil {
		s.log.Err(err, "发布应答失败")
	}
}

// Send 发布一条控制消息
func Send(ctx context.Context, rc *redis.Client, prefix string, msg api.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return rc.Publish(ctx, Channel(prefix), data).Err()
}
