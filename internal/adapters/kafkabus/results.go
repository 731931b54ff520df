package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ecocert/internal/domain"
	"ecocert/internal/ports"
)

// ResultMessage is what the oracle publishes on the result topic.
// Signatures are 0x-prefixed hex.
type ResultMessage struct {
	RequestID  domain.RequestID `json:"request_id"`
	Plaintext  uint64           `json:"plaintext"`
	Signatures []string         `json:"signatures"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// ResultConsumer feeds oracle results into the callback. A rejected or
// malformed result is logged and committed; redelivery would not change
// the outcome.
type ResultConsumer struct {
	r        messageReader
	callback ports.DisclosureCallback
	log      *zap.Logger
}

func NewResultConsumer(r messageReader, callback ports.DisclosureCallback, log *zap.Logger) *ResultConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResultConsumer{r: r, callback: callback, log: log.With(zap.String("component", "kafka-results"))}
}

// Run consumes until ctx is cancelled.
func (c *ResultConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch result: %w", err)
		}
		c.handle(ctx, m)
		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit result: %w", err)
		}
	}
}

func (c *ResultConsumer) handle(ctx context.Context, m kafka.Message) {
	res, sigs, err := decodeResult(m.Value)
	if err != nil {
		c.log.Warn("malformed result", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	err = c.callback.OnDisclosureResolved(ctx, res.RequestID, res.Plaintext, sigs)
	switch {
	case err == nil:
		c.log.Info("result delivered", zap.String("request_id", string(res.RequestID)))
	case isRejection(err):
		c.log.Warn("result rejected", zap.String("request_id", string(res.RequestID)), zap.Error(err))
	default:
		c.log.Error("result delivery failed", zap.String("request_id", string(res.RequestID)), zap.Error(err))
	}
}

func decodeResult(b []byte) (ResultMessage, [][]byte, error) {
	var res ResultMessage
	if err := json.Unmarshal(b, &res); err != nil {
		return res, nil, err
	}
	if res.RequestID == "" {
		return res, nil, errors.New("missing request_id")
	}
	sigs := make([][]byte, 0, len(res.Signatures))
	for _, s := range res.Signatures {
		sig, err := hexutil.Decode(s)
		if err != nil {
			return res, nil, fmt.Errorf("signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return res, sigs, nil
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidSignatures) ||
		errors.Is(err, domain.ErrUnknownRequest) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrRequestExpired)
}
