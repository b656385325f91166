// Package amqpqueue is a delayed-task provider on RabbitMQ. Tasks wait in a
// delay queue with a per-message TTL and dead-letter into the ready queue.
package amqpqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	Name = "amqp"

	readyKey           = "ready"
	defaultMaxAttempts = 5
	retryDelay         = 30 * time.Second
)

// channel is the subset of *amqp.Channel the queue uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type Topology struct {
	Exchange   string
	ReadyQueue string
	DelayQueue string
}

func TopologyFor(exchange string) Topology {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "botledger.tasks"
	}
	return Topology{
		Exchange:   exchange,
		ReadyQueue: exchange + ".ready",
		DelayQueue: exchange + ".delay",
	}
}

type Queue struct {
	log         *zap.Logger
	clock       clock.Clock
	topology    Topology
	maxAttempts int

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
	Clock     clock.Clock
}

// NewFactory registers the amqp provider. The broker is dialed when the provider is opened.
func NewFactory(p Params) taskqueue.FactoryResult {
	return taskqueue.FactoryResult{Factory: taskqueue.Factory{
		Name: Name,
		New: func() (taskqueue.Provider, error) {
			q, err := Dial(p.Cfg.Scheduler.AMQPURL, TopologyFor(p.Cfg.Scheduler.AMQPExchange), p.Log, p.Clock)
			if err != nil {
				return nil, err
			}
			p.Lifecycle.Append(fx.Hook{OnStop: func(context.Context) error { return q.Close() }})
			return q, nil
		},
	}}
}

// Dial connects to the broker and declares the exchange and both queues.
func Dial(rawURL string, topology Topology, log *zap.Logger, clk clock.Clock) (*Queue, error) {
	cleanURL, err := sanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declare(ch, topology); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	q := newQueue(ch, topology, log, clk)
	q.conn = conn
	return q, nil
}

func newQueue(ch channel, topology Topology, log *zap.Logger, clk clock.Clock) *Queue {
	return &Queue{
		log:         log.Named("taskqueue.amqp"),
		clock:       clk,
		topology:    topology,
		maxAttempts: defaultMaxAttempts,
		ch:          ch,
	}
}

func declare(ch *amqp.Channel, t Topology) error {
	if err := ch.ExchangeDeclare(t.Exchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(t.ReadyQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(t.ReadyQueue, readyKey, t.Exchange, false, nil); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(t.DelayQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    t.Exchange,
		"x-dead-letter-routing-key": readyKey,
	})
	return err
}

func (q *Queue) Name() string { return Name }

func (q *Queue) Trigger(ctx context.Context, taskID string, payload json.RawMessage, runAt time.Time) (taskqueue.Handle, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return "", taskqueue.ErrEmptyTaskID
	}
	env := taskqueue.Envelope{
		Handle:  taskqueue.Handle(uuid.NewString()),
		TaskID:  taskID,
		Payload: payload,
		RunAt:   runAt.UTC(),
	}
	if err := q.publish(ctx, env); err != nil {
		return "", err
	}
	return env.Handle, nil
}

// publish routes due tasks straight to the ready queue and the rest through the delay queue.
func (q *Queue) publish(ctx context.Context, env taskqueue.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    string(env.Handle),
		Timestamp:    q.clock.Now(),
		Type:         env.TaskID,
		Body:         body,
	}

	exchange, key := q.topology.Exchange, readyKey
	if delay := env.RunAt.Sub(q.clock.Now()); delay > 0 {
		exchange, key = "", q.topology.DelayQueue
		msg.Expiration = expiration(delay)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch == nil {
		return taskqueue.ErrProviderClosed
	}
	return q.ch.PublishWithContext(ctx, exchange, key, false, false, msg)
}

// Run consumes the ready queue until ctx is done or the channel closes.
func (q *Queue) Run(ctx context.Context, deliver taskqueue.DeliverFunc) error {
	q.mu.Lock()
	ch := q.ch
	q.mu.Unlock()
	if ch == nil {
		return taskqueue.ErrProviderClosed
	}

	msgs, err := ch.Consume(q.topology.ReadyQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return taskqueue.ErrProviderClosed
			}
			q.handle(ctx, msg, deliver)
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg amqp.Delivery, deliver taskqueue.DeliverFunc) {
	log := q.log.With(zap.String("message_id", msg.MessageId))

	var env taskqueue.Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		log.Error("undecodable task dropped", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}
	env.Attempt++
	log = log.With(zap.String("task_id", env.TaskID), zap.Int("attempt", env.Attempt))

	err := deliver(ctx, env.Delivery(Name))
	if err == nil {
		_ = msg.Ack(false)
		return
	}
	if ctx.Err() != nil {
		_ = msg.Nack(false, true)
		return
	}
	if env.Attempt >= q.maxAttempts {
		log.Error("task dropped after max attempts", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	env.RunAt = q.clock.Now().Add(retryDelay)
	if pubErr := q.publish(ctx, env); pubErr != nil {
		log.Error("task retry publish failed", zap.Error(pubErr))
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
	log.Info("task requeued", zap.Time("run_at", env.RunAt))
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var err error
	if q.ch != nil {
		err = q.ch.Close()
		q.ch = nil
	}
	if q.conn != nil {
		err = errors.Join(err, q.conn.Close())
		q.conn = nil
	}
	return err
}

// expiration formats a per-message TTL in whole milliseconds, at least 1.
func expiration(d time.Duration) string {
	return strconv.FormatInt(max(d.Milliseconds(), 1), 10)
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

var Module = fx.Module("taskqueue.amqp",
	fx.Provide(NewFactory),
)
