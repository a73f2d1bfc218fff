package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

const flushTimeout = 10 * time.Second

// ScoreHandler accepts batches of finished-game results pulled off the
// ingestion topic. Submissions arriving this way run the same
// anti-cheat validation as scores posted over HTTP.
type ScoreHandler interface {
	SubmitScoreBatch(ctx context.Context, batch domain.BatchScoreSubmission) error
}

// Consumer drains the score topic as part of a consumer group so that
// multiple server instances share partitions.
type Consumer struct {
	config  *config.KafkaConfig
	handler ScoreHandler
	logger  *slog.Logger
	group   sarama.ConsumerGroup
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	ready   chan bool
}

// NewConsumer creates a consumer group member for the score topic.
func NewConsumer(cfg *config.KafkaConfig, handler ScoreHandler, logger *slog.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_0_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:  cfg,
		handler: handler,
		logger:  logger,
		group:   group,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan bool),
	}, nil
}

// Start joins the consumer group and blocks until the first session is
// established.
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			ingester := &scoreIngester{consumer: c, ready: c.ready}

			// Consume returns on rebalance; loop to rejoin.
			if err := c.group.Consume(c.ctx, []string{c.config.Topic}, ingester); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("consume session failed", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	<-c.ready
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop leaves the group and waits for in-flight batches to flush.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

// scoreIngester implements sarama.ConsumerGroupHandler. Messages are
// accumulated and handed to the ScoreHandler when the batch fills or
// the batch timer fires, whichever comes first.
type scoreIngester struct {
	consumer *Consumer
	ready    chan bool
	pending  []domain.ScoreSubmission
	dropped  int
}

func (si *scoreIngester) Setup(sarama.ConsumerGroupSession) error {
	close(si.ready)
	return nil
}

func (si *scoreIngester) Cleanup(sarama.ConsumerGroupSession) error {
	if si.dropped > 0 {
		si.consumer.logger.Warn("dropped malformed score messages", "count", si.dropped)
	}
	return nil
}

func (si *scoreIngester) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := si.consumer.config
	si.pending = make([]domain.ScoreSubmission, 0, cfg.BatchSize)
	timer := time.NewTimer(cfg.BatchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-session.Context().Done():
			si.flush()
			return nil

		case <-timer.C:
			si.flush()
			timer.Reset(cfg.BatchTimeout)

		case msg, ok := <-claim.Messages():
			if !ok {
				si.flush()
				return nil
			}

			if sub, ok := si.decode(msg); ok {
				si.pending = append(si.pending, sub)
			}
			session.MarkMessage(msg, "")

			if len(si.pending) >= cfg.BatchSize {
				si.flush()
				timer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// decode unmarshals and sanity-checks one message. Malformed messages
// are counted and skipped; their offsets are still committed so a bad
// producer cannot wedge the partition.
func (si *scoreIngester) decode(msg *sarama.ConsumerMessage) (domain.ScoreSubmission, bool) {
	var sub domain.ScoreSubmission
	if err := json.Unmarshal(msg.Value, &sub); err != nil {
		si.consumer.logger.Warn("failed to unmarshal score message",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		si.dropped++
		return sub, false
	}
	if sub.PlayerID == "" || sub.GameType == "" {
		si.consumer.logger.Warn("score message missing required fields",
			"player_id", sub.PlayerID,
			"game_type", sub.GameType,
		)
		si.dropped++
		return sub, false
	}
	return sub, true
}

func (si *scoreIngester) flush() {
	if len(si.pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	batch := domain.BatchScoreSubmission{Scores: si.pending}
	if err := si.consumer.handler.SubmitScoreBatch(ctx, batch); err != nil {
		si.consumer.logger.Error("failed to submit score batch", "error", err, "size", len(si.pending))
	} else {
		si.consumer.logger.Debug("submitted score batch", "size", len(si.pending))
	}

	si.pending = si.pending[:0]
}
