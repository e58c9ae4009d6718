// Package queue is the job queue adapter (C5): a durable, at-least-once
// publish/consume layer in front of a Kafka-compatible broker. Prefetch is
// pinned at one in-flight message per consumer, and offsets are committed
// only when the caller signals it — the queue does not decide when a
// message has been "handled", the pipeline does.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"
)

// Job is the message published when an upload's bytes have fully arrived.
type Job struct {
	UploadID    string `json:"uploadId"`
	FilePath    string `json:"filePath"`
	Filename    string `json:"filename"`
	Packager    string `json:"packager"`
	CallbackURL string `json:"callbackUrl,omitempty"`
	S3Path      string `json:"s3Path,omitempty"`
	UploadToS3  bool   `json:"uploadToS3"`
}

func (j Job) validate() error {
	if j.UploadID == "" {
		return fmt.Errorf("queue: job missing uploadId")
	}
	if j.FilePath == "" {
		return fmt.Errorf("queue: job missing filePath")
	}
	return nil
}

// Producer publishes jobs as persistent, JSON-encoded messages.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewProducer(brokers []string, topic, user, password string, logger *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	if user != "" {
		mechanism := plain.Mechanism{Username: user, Password: password}
		w.Transport = &kafka.Transport{SASL: mechanism}
	}
	return &Producer{writer: w, logger: logger}
}

// Publish sends job, retrying the write once after reconnecting the
// underlying transport on failure.
func (p *Producer) Publish(ctx context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(job.UploadID),
		Value: body,
		Time:  time.Now(),
	}

	err = p.writer.WriteMessages(ctx, msg)
	if err != nil {
		p.logger.Warn("publish failed, retrying once", zap.String("uploadId", job.UploadID), zap.Error(err))
		err = p.writer.WriteMessages(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

func (p *Producer) Close() error { return p.writer.Close() }

// Consumer reads jobs with prefetch effectively pinned to one message per
// partition per consumer: a single goroutine calls FetchMessage, then
// blocks on the handler before fetching the next one.
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID, user, password string, logger *zap.Logger) *Consumer {
	readerCfg := kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	}
	if user != "" {
		readerCfg.Dialer = &kafka.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			SASLMechanism: plain.Mechanism{Username: user, Password: password},
		}
	}
	return &Consumer{reader: kafka.NewReader(readerCfg), logger: logger}
}

// Handler processes one job. It must call ackNow at the moment the job has
// been durably claimed (i.e. right after the record's atomic acquire guard
// succeeds) — not after the job finishes. ackNow commits the message's
// offset; calling it more than once is a no-op after the first commit.
type Handler func(ctx context.Context, job Job, ackNow func() error) error

// Consume blocks, fetching and dispatching jobs until ctx is cancelled. A
// failed fetch is logged and retried after a two-second pause; it does not
// end the loop.
func (c *Consumer) Consume(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("fetch failed, retrying", zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}

		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			c.logger.Error("dropping malformed message", zap.Error(err))
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		committed := false
		ackNow := func() error {
			if committed {
				return nil
			}
			committed = true
			return c.reader.CommitMessages(ctx, msg)
		}

		if err := handle(ctx, job, ackNow); err != nil {
			c.logger.Error("job handler returned error", zap.String("uploadId", job.UploadID), zap.Error(err))
		}
		// Best-effort: if the handler never acked (e.g. it decided the
		// message was a stale duplicate before reaching the guard), ack now
		// so a poison message cannot wedge the partition forever.
		_ = ackNow()
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
