package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/paiban/dispatch/pkg/logger"
	"github.com/paiban/dispatch/pkg/model"
)

// Publisher 出站事件发布
type Publisher interface {
	Publish(ctx context.Context, subject, eventID string, payload any) error
	Close() error
}

// Options JetStream 连接参数
type Options struct {
	URL           string
	Stream        string
	SubjectPrefix string
	Name          string
}

// streamPublisher JetStream 发布接口中用到的部分
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStream 基于 JetStream 的发布者，按事件ID去重
type JetStream struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	pub    streamPublisher
	prefix string
}

// Connect 连接 NATS 并确保事件流存在
func Connect(ctx context.Context, opts Options) (*JetStream, error) {
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS 连接断开")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS 已重连")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("创建 JetStream 上下文失败: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       opts.Stream,
		Subjects:   []string{opts.SubjectPrefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("创建事件流 %s 失败: %w", opts.Stream, err)
	}

	logger.Info().
		Str("url", opts.URL).
		Str("stream", opts.Stream).
		Msg("NATS JetStream 已就绪")
	return &JetStream{conn: nc, js: js, pub: js, prefix: opts.SubjectPrefix}, nil
}

// NewJetStreamWith 使用给定的发布接口创建发布者
func NewJetStreamWith(pub streamPublisher, prefix string) *JetStream {
	return &JetStream{pub: pub, prefix: prefix}
}

// Stream 返回 JetStream 上下文，用于创建入站消费者
func (p *JetStream) Stream() jetstream.JetStream {
	return p.js
}

// Publish 发布事件
func (p *JetStream) Publish(ctx context.Context, subject, eventID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	full := p.prefix + "." + subject
	if _, err := p.pub.Publish(ctx, full, data, jetstream.WithMsgID(eventID)); err != nil {
		return fmt.Errorf("发布事件到 %s 失败: %w", full, err)
	}
	return nil
}

// Close 排空并关闭连接
func (p *JetStream) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// Recorder 内存发布者，记录全部事件
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded 一条已记录的事件
type Recorded struct {
	Subject string
	EventID string
	Payload any
}

// Publish 实现 Publisher
func (r *Recorder) Publish(_ context.Context, subject, eventID string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Subject: subject, EventID: eventID, Payload: payload})
	return nil
}

// Close 实现 Publisher
func (r *Recorder) Close() error { return nil }

// Events 返回已记录事件的副本
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Subjects 返回指定主题的事件
func (r *Recorder) Subjects(subject string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out
}

// Nop 丢弃全部事件
type Nop struct{}

// Publish 实现 Publisher
func (Nop) Publish(context.Context, string, string, any) error { return nil }

// Close 实现 Publisher
func (Nop) Close() error { return nil }

// Emitter 把领域对象转换为出站事件。发布失败只记录日志，不影响业务流程。
type Emitter struct {
	pub Publisher
	now func() time.Time
}

// NewEmitter 创建事件转换器
func NewEmitter(pub Publisher) *Emitter {
	if pub == nil {
		pub = Nop{}
	}
	return &Emitter{pub: pub, now: time.Now}
}

func (e *Emitter) publish(ctx context.Context, subject string, id string, payload any) {
	if err := e.pub.Publish(ctx, subject, id, payload); err != nil {
		logger.WithContext(ctx).Error().Err(err).Str("subject", subject).Msg("事件发布失败")
	}
}

// AssignmentDecided 发布分配决定
func (e *Emitter) AssignmentDecided(ctx context.Context, a *model.ShiftAssignment) {
	id := model.NewID()
	e.publish(ctx, SubjectAssignment, id, AssignmentEvent{
		EventID:        id,
		AssignmentID:   a.ID,
		RequestID:      a.RequestID,
		WorkerID:       a.WorkerID,
		ShiftID:        a.ShiftID,
		CompositeScore: a.CompositeScore,
		SubScores:      a.Scores,
		Status:         string(a.Status),
		AutoAssigned:   a.AutoAssigned,
		Strategy:       a.Strategy,
		At:             e.now(),
	})
}

// TransferChanged 发布转派状态，转人工时同时发布升级事件
func (e *Emitter) TransferChanged(ctx context.Context, t *model.ShiftTransfer) {
	id := model.NewID()
	now := e.now()
	e.publish(ctx, SubjectTransfer, id, TransferEvent{
		EventID:    id,
		TransferID: t.ID,
		RequestID:  t.RequestID,
		FromWorker: t.FromWorkerID,
		ToWorker:   t.ToWorkerID,
		Status:     string(t.Status),
		RetryCount: t.RetryCount,
		At:         now,
	})
	if t.Status == model.TransferEscalated {
		eid := model.NewID()
		e.publish(ctx, SubjectEscalation, eid, EscalationEvent{
			EventID:    eid,
			TransferID: t.ID,
			RequestID:  t.RequestID,
			Severity:   severityForUrgency(t.Urgency),
			Code:       t.EscalationCode,
			Reason:     fmt.Sprintf("转派重试 %d/%d 次后转人工: %s", t.RetryCount, t.MaxRetries, t.Reason),
			At:         now,
		})
	}
}

// ConflictRaised 发布计划冲突
func (e *Emitter) ConflictRaised(ctx context.Context, c *model.PlanningConflict) {
	id := model.NewID()
	e.publish(ctx, SubjectEscalation, id, EscalationEvent{
		EventID:    id,
		ConflictID: c.ID,
		Severity:   string(c.Severity),
		Reason:     c.Message,
		At:         e.now(),
	})
}

// RequestEscalated 发布无法分配而转人工的请求
func (e *Emitter) RequestEscalated(ctx context.Context, requestID, reason string) {
	id := model.NewID()
	e.publish(ctx, SubjectEscalation, id, EscalationEvent{
		EventID:   id,
		RequestID: requestID,
		Severity:  string(model.SeverityHigh),
		Reason:    reason,
		At:        e.now(),
	})
}

func severityForUrgency(u model.Urgency) string {
	switch u.Normalize() {
	case model.UrgencyCritical:
		return string(model.SeverityCritical)
	case model.UrgencyHigh:
		return string(model.SeverityHigh)
	case model.UrgencyLow:
		return string(model.SeverityLow)
	default:
		return string(model.SeverityMedium)
	}
}
