// Package kafka реализует queue.Queue поверх Apache Kafka (транспорт,
// как в исходном сервисе обработки заказов) и Redis (канал отзыва задач
// и прогресса — тот же принцип, по которому Celery опирается на
// result backend для revoke-листов и PROGRESS-состояний). Каждая
// дорожка (orders/batches/default) — отдельный топик с префиксом
// cfg.Topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/queue"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/sl"
)

const revokeTTL = 24 * time.Hour

// Queue — реализация queue.Queue на связке sarama (очередь) + go-redis
// (отзыв и прогресс).
type Queue struct {
	cfg      config.Kafka
	producer sarama.SyncProducer
	client   sarama.Client
	redis    *goredis.Client
	log      *slog.Logger
}

// New создает продюсера и подключается к Redis для служебного канала.
func New(cfg config.Kafka, redisClient *goredis.Client, log *slog.Logger) (*Queue, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Producer.Acks)
	saramaCfg.Producer.Idempotent = cfg.Producer.EnableIdempotence
	saramaCfg.Producer.Retry.Max = cfg.Producer.Retries
	if cfg.Producer.EnableIdempotence {
		saramaCfg.Net.MaxOpenRequests = 1
	}
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	client, err := sarama.NewClient(cfg.BootstrapServers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("can't create kafka client: %v", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("can't create producer: %v", err)
	}

	return &Queue{cfg: cfg, producer: producer, client: client, redis: redisClient, log: log}, nil
}

func (q *Queue) topicFor(lane queue.Lane) string {
	return fmt.Sprintf("%s.%s", q.cfg.Topic, lane)
}

// Enqueue публикует задачу в топик дорожки и возвращает сгенерированный
// task_id. Порядок "enqueue, затем сохранение task_id на строке заказа"
// (см. internal/dispatch) терпим к гонкам принятия очередью: если запись
// task_id в Store не удастся, воркер все равно переподберет состояние
// через собственный условный переход. opts в задачу не записывается и
// этой реализацией не применяется: лимиты времени, число повторов и
// задержка повтора из TaskOptions очередью не контролируются.
func (q *Queue) Enqueue(ctx context.Context, lane queue.Lane, name queue.TaskName, orderID, batchID int64, opts queue.TaskOptions) (string, error) {
	taskID := uuid.NewString()

	task := queue.Task{
		TaskID:     taskID,
		Lane:       lane,
		Name:       name,
		OrderID:    orderID,
		BatchID:    batchID,
		Attempt:    0,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := q.publish(task); err != nil {
		return "", err
	}

	return taskID, nil
}

func (q *Queue) publish(task queue.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("can't marshal task: %v", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topicFor(task.Lane),
		Key:   sarama.StringEncoder(task.TaskID),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("can't publish task: %v", err)
	}

	return nil
}

// Revoke marca задачу отозванной в Redis. Consume проверяет этот флаг
// перед стартом обработки; terminate также пишется в флаг, так как Go
// не имеет межпроцессного "убить выполняющийся task" примитива, которым
// в исходной системе пользовался Celery control bus — единственный
// реалистичный канал здесь кооперативный, не принудительный.
func (q *Queue) Revoke(ctx context.Context, taskID string, terminate bool) error {
	key := revokeKey(taskID)
	val := "queued"
	if terminate {
		val = "terminate"
	}
	if err := q.redis.Set(ctx, key, val, revokeTTL).Err(); err != nil {
		return fmt.Errorf("can't set revoke flag: %v", err)
	}
	return nil
}

// IsRevoked проверяет, был ли task_id отозван.
func (q *Queue) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	_, err := q.redis.Get(ctx, revokeKey(taskID)).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("can't check revoke flag: %v", err)
	}
	return true, nil
}

// ReportProgress публикует прогресс задачи как Redis hash с коротким TTL;
// operator dashboard читает его напрямую, не полагаясь на него для
// корректности (см. queue.Queue doc).
func (q *Queue) ReportProgress(ctx context.Context, taskID string, meta queue.ProgressMeta) error {
	key := progressKey(taskID)
	if err := q.redis.HSet(ctx, key, map[string]any{
		"step":        meta.Step,
		"message":     meta.Message,
		"percent_pct": meta.PercentPct,
	}).Err(); err != nil {
		return fmt.Errorf("can't report progress: %v", err)
	}
	return q.redis.Expire(ctx, key, time.Hour).Err()
}

// Retry переставляет задачу в ту же дорожку через countdown. Kafka не
// поддерживает отложенную доставку нативно, поэтому задержка реализована
// таймером в отдельной горутине — приемлемо в масштабе порядка минут,
// которым оперирует политика повторов этой системы (линейный backoff от
// базовой задержки), но не годится для отложенной доставки на часы.
func (q *Queue) Retry(ctx context.Context, task queue.Task, countdown time.Duration) (string, error) {
	next := task
	next.Attempt++
	next.EnqueuedAt = time.Now().UTC()

	go func() {
		timer := time.NewTimer(countdown)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := q.publish(next); err != nil {
				q.log.Error("can't publish delayed retry", sl.Err(err), slog.String("task_id", next.TaskID))
			}
		}
	}()

	return next.TaskID, nil
}

// Consume запускает блокирующий цикл консьюмер-группы для дорожки lane.
// Каждое сообщение обрабатывается синхронно внутри ConsumeClaim — ровно
// одна задача занимает слот исполнения одновременно (prefetch=1); смещение
// коммитится (через MarkMessage) только после успешного возврата handler.
func (q *Queue) Consume(ctx context.Context, lane queue.Lane, handler queue.Handler) error {
	group, err := sarama.NewConsumerGroupFromClient(q.cfg.Consumer.GroupId, q.client)
	if err != nil {
		return fmt.Errorf("can't create consumer group: %v", err)
	}
	defer group.Close()

	h := &consumerHandler{queue: q, handler: handler, log: q.log}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := group.Consume(ctx, []string{q.topicFor(lane)}, h); err != nil {
				if err == sarama.ErrClosedConsumerGroup || ctx.Err() != nil {
					return nil
				}
				q.log.Error("error from consumer group", sl.Err(err))
			}
		}
	}
}

// Close освобождает продюсера и клиента sarama.
func (q *Queue) Close() error {
	if err := q.producer.Close(); err != nil {
		return err
	}
	return q.client.Close()
}

func revokeKey(taskID string) string   { return "gsp:revoked:" + taskID }
func progressKey(taskID string) string { return "gsp:progress:" + taskID }

// consumerHandler реализует sarama.ConsumerGroupHandler, прогоняя каждое
// сообщение через queue.Handler синхронно. sarama вызывает ConsumeClaim в
// отдельной горутине на каждую партицию, поэтому вызовы handler
// сериализуются мьютексом mu — это и обеспечивает prefetch=1 на уровне
// процесса.
type consumerHandler struct {
	queue   *Queue
	handler queue.Handler
	log     *slog.Logger
	mu      sync.Mutex
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var task queue.Task
			if err := json.Unmarshal(msg.Value, &task); err != nil {
				h.log.Error("can't unmarshal task, skipping", sl.Err(err))
				session.MarkMessage(msg, "")
				continue
			}

			revoked, err := h.queue.IsRevoked(session.Context(), task.TaskID)
			if err != nil {
				h.log.Error("can't check revoke flag", sl.Err(err))
			}
			if revoked {
				h.log.Info("skipping revoked task", slog.String("task_id", task.TaskID))
				session.MarkMessage(msg, "")
				continue
			}

			h.mu.Lock()
			err = h.handler(session.Context(), task)
			h.mu.Unlock()
			if err != nil {
				h.log.Error("task handler failed, will not commit offset", sl.Err(err), slog.String("task_id", task.TaskID))
				// Сообщение не отмечается, но MarkMessage следующего
				// сообщения партиции закоммитит смещение и за ним: задача
				// доставится заново, только если сессия закончится раньше.
				continue
			}

			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
