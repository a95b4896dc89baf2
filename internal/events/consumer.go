package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	apperrors "github.com/paiban/dispatch/pkg/errors"
	"github.com/paiban/dispatch/pkg/logger"
)

// Handler 入站事件处理
type Handler interface {
	HandleRequestEvent(ctx context.Context, ev *RequestEvent) error
	HandleShiftEvent(ctx context.Context, ev *ShiftEvent) error
}

// Outcome 消息处理结果
type Outcome int

const (
	OutcomeAck  Outcome = iota // 处理完成
	OutcomeNak                 // 暂时失败，稍后重投
	OutcomeTerm                // 消息无效，不再重投
)

// Dispatch 按主题路由入站消息并返回应答方式
func Dispatch(ctx context.Context, h Handler, prefix, subject string, data []byte) (Outcome, error) {
	rel := strings.TrimPrefix(subject, prefix+".")
	var err error
	switch {
	case rel == SubjectRequestIn || strings.HasPrefix(rel, SubjectRequestIn+"."):
		var ev RequestEvent
		if uerr := json.Unmarshal(data, &ev); uerr != nil {
			return OutcomeTerm, fmt.Errorf("解析请求事件失败: %w", uerr)
		}
		if ev.RequestID == "" {
			return OutcomeTerm, apperrors.InvalidInput("request_id", "不能为空")
		}
		err = h.HandleRequestEvent(ctx, &ev)
	case rel == SubjectShiftIn || strings.HasPrefix(rel, SubjectShiftIn+"."):
		var ev ShiftEvent
		if uerr := json.Unmarshal(data, &ev); uerr != nil {
			return OutcomeTerm, fmt.Errorf("解析班次事件失败: %w", uerr)
		}
		if _, ok := ev.Status(); !ok || ev.ShiftID == "" {
			return OutcomeTerm, apperrors.InvalidInput("type", "未知的班次事件")
		}
		err = h.HandleShiftEvent(ctx, &ev)
	default:
		return OutcomeTerm, fmt.Errorf("未知主题 %s", subject)
	}
	return classify(err), err
}

// classify 业务上可恢复的结果已由引擎处理（排队或转人工），直接确认；
// 输入错误不再重投；其余视为暂时故障。
func classify(err error) Outcome {
	switch {
	case err == nil, apperrors.IsRecoverable(err), apperrors.Is(err, apperrors.CodeAlreadyAssigned):
		return OutcomeAck
	case apperrors.Is(err, apperrors.CodeInvalidInput),
		apperrors.Is(err, apperrors.CodeValidationFail),
		apperrors.Is(err, apperrors.CodeNotFound),
		apperrors.Is(err, apperrors.CodeInvalidTransition):
		return OutcomeTerm
	default:
		return OutcomeNak
	}
}

// ConsumerOptions 持久拉取消费者参数
type ConsumerOptions struct {
	Stream        string
	Durable       string
	SubjectPrefix string
	BatchSize     int
	FetchTimeout  time.Duration
	RetryBackoff  time.Duration
	MaxDeliver    int
}

func (o *ConsumerOptions) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 5 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.MaxDeliver <= 0 {
		o.MaxDeliver = 5
	}
}

// Consumer 入站事件消费者
type Consumer struct {
	js      jetstream.JetStream
	opts    ConsumerOptions
	handler Handler

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer 创建入站事件消费者
func NewConsumer(js jetstream.JetStream, opts ConsumerOptions, h Handler) (*Consumer, error) {
	if js == nil {
		return nil, errors.New("需要 JetStream 上下文")
	}
	if h == nil {
		return nil, errors.New("需要事件处理器")
	}
	opts.defaults()
	return &Consumer{js: js, opts: opts, handler: h}, nil
}

// Start 创建持久消费者并启动拉取循环
func (c *Consumer) Start(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.Stream, jetstream.ConsumerConfig{
		Name:    c.opts.Durable,
		Durable: c.opts.Durable,
		FilterSubjects: []string{
			c.opts.SubjectPrefix + "." + SubjectRequestIn + ".>",
			c.opts.SubjectPrefix + "." + SubjectShiftIn + ".>",
		},
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    30 * time.Second,
		MaxDeliver: c.opts.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("创建消费者 %s 失败: %w", c.opts.Durable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, cons)

	logger.Info().Str("durable", c.opts.Durable).Msg("入站事件消费者已启动")
	return nil
}

func (c *Consumer) run(ctx context.Context, cons jetstream.Consumer) {
	defer close(c.done)
	for {
		iter, err := cons.Messages(
			jetstream.PullMaxMessages(c.opts.BatchSize),
			jetstream.PullExpiry(c.opts.FetchTimeout),
			jetstream.PullHeartbeat(c.opts.FetchTimeout/2),
		)
		if err != nil {
			logger.Error().Err(err).Msg("创建消息迭代器失败")
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		stop := context.AfterFunc(ctx, iter.Stop)

		for {
			msg, err := iter.Next()
			if err != nil {
				iter.Stop()
				if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
					stop()
					return
				}
				if errors.Is(err, jetstream.ErrNoHeartbeat) {
					logger.Warn().Err(err).Msg("拉取心跳丢失，重建迭代器")
				} else {
					logger.Warn().Err(err).Msg("拉取消息失败，重试")
					c.sleep(ctx)
				}
				break
			}
			c.handle(ctx, msg)
		}
		stop()
	}
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	outcome, err := Dispatch(ctx, c.handler, c.opts.SubjectPrefix, msg.Subject(), msg.Data())
	if err != nil {
		logger.WithContext(ctx).Warn().Err(err).Str("subject", msg.Subject()).Int("outcome", int(outcome)).Msg("入站事件处理失败")
	}
	switch outcome {
	case OutcomeAck:
		_ = msg.Ack()
	case OutcomeTerm:
		_ = msg.Term()
	default:
		_ = msg.NakWithDelay(c.opts.RetryBackoff)
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.opts.RetryBackoff):
		return true
	}
}

// Close 停止拉取循环。持久消费者保留在服务端。
func (c *Consumer) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
