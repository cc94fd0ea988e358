// cmd/delay-scheduler/main.go
package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meridian/internal/pkg/bootstrap"
	"meridian/internal/pkg/constants"
	"meridian/internal/pkg/logger"
	"meridian/internal/pkg/mq"
	"meridian/internal/pkg/tracing"
)

const serviceName = constants.DelayScheduler

// 支持的延迟级别。业务方把消息投进对应级别的主题，
// 消息头 real-topic 指定到期后的目标主题。
var delayLevels = map[string]time.Duration{
	"delay_topic_1m":        time.Minute,
	"delay_topic_10m":       10 * time.Minute,
	constants.TopicDelay30m: 30 * time.Minute,
}

// levelScheduler 轮询一个延迟级别的主题。
// 同一主题内消息按进入时间有序，队头未到期则整个级别都未到期，
// 一次 tick 只需要检查到第一条未到期的消息。
type levelScheduler struct {
	level  string
	delay  time.Duration
	reader *kafka.Reader
	tracer trace.Tracer

	writerLock sync.Mutex
	writers    map[string]*kafka.Writer // key: realTopic
	brokers    []string
}

func newLevelScheduler(brokers []string, level string, delay time.Duration) *levelScheduler {
	return &levelScheduler{
		level:   level,
		delay:   delay,
		reader:  mq.NewKafkaReader(brokers, level, constants.GroupDelayScheduler+"-"+level),
		tracer:  otel.Tracer(serviceName),
		writers: make(map[string]*kafka.Writer),
		brokers: brokers,
	}
}

// run 启动该级别的轮询循环，直到 ctx 取消。
func (s *levelScheduler) run(ctx context.Context, interval time.Duration) {
	logger.Ctx(ctx).Info().Str("level", s.level).Dur("delay", s.delay).Msg("delay level scheduler started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.reader.Close()
	defer s.closeWriters()

	for {
		select {
		case <-ticker.C:
			s.drainDue(ctx)
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Str("level", s.level).Msg("delay level scheduler shutting down")
			return
		}
	}
}

// drainDue 连续转发队头所有到期的消息，遇到第一条未到期的停下。
func (s *levelScheduler) drainDue(parentCtx context.Context) {
	for {
		fetchCtx, cancel := context.WithTimeout(parentCtx, 500*time.Millisecond)
		msg, err := s.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			// 没有新消息或上下文取消，等下一次 tick
			return
		}

		msgCtx := mq.ExtractTraceContext(parentCtx, msg.Headers)
		ctx, span := s.tracer.Start(msgCtx, "scheduler.ForwardDue", trace.WithAttributes(
			attribute.String("delay.level", s.level),
		))

		if due := s.dueTime(msg); time.Now().Before(due) {
			// 队头未到期，后面的更不会到期。不提交 offset，
			// 下一次 tick 会重新拿到同一条
			span.AddEvent("head message not due")
			span.End()
			return
		}

		if err := s.forward(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("level", s.level).Msg("failed to forward due message, will retry")
			span.RecordError(err)
			span.SetStatus(codes.Error, "forward failed")
			span.End()
			return
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("level", s.level).Msg("failed to commit forwarded message")
			span.RecordError(err)
			span.End()
			return
		}
		span.End()
	}
}

// dueTime 取消息的到期时间：优先 delay-timestamp 头，
// 没有或解析失败时退回 "进入主题时间 + 级别延迟"。
func (s *levelScheduler) dueTime(msg kafka.Message) time.Time {
	if raw := headerValue(msg.Headers, constants.HeaderDelayTimestamp); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return msg.Time.Add(s.delay)
}

// forward 把到期消息投到 real-topic 指定的真实主题。
func (s *levelScheduler) forward(ctx context.Context, msg kafka.Message) error {
	realTopic := headerValue(msg.Headers, constants.HeaderRealTopic)
	if realTopic == "" {
		// 没有目标主题的消息无法投递，记日志后当作已处理
		logger.Ctx(ctx).Error().Str("level", s.level).Msg("message missing real-topic header, dropping")
		return nil
	}

	s.writerLock.Lock()
	writer, ok := s.writers[realTopic]
	if !ok {
		writer = mq.NewKafkaWriter(s.brokers, realTopic)
		s.writers[realTopic] = writer
	}
	s.writerLock.Unlock()

	out := kafka.Message{Key: msg.Key, Value: msg.Value}
	mq.InjectTraceContext(ctx, &out.Headers)
	return writer.WriteMessages(ctx, out)
}

func (s *levelScheduler) closeWriters() {
	s.writerLock.Lock()
	defer s.writerLock.Unlock()
	for _, writer := range s.writers {
		writer.Close()
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func main() {
	cfg := bootstrap.GetCurrentConfig()
	logger.Init(serviceName, cfg.LogLevel)

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.JaegerEndpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer provider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for level, delay := range delayLevels {
		wg.Add(1)
		scheduler := newLevelScheduler(cfg.KafkaBrokerList(), level, delay)
		go func() {
			defer wg.Done()
			scheduler.run(ctx, time.Second)
		}()
	}

	logger.Ctx(ctx).Info().Int("levels", len(delayLevels)).Msg("delay scheduler running")
	wg.Wait()
}
