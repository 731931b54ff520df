// Package kafkabus connects the disclosure protocol to an external decryption
// oracle over two topics: requests go out with the ciphertexts attached,
// signed results come back and are delivered to the callback.
package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ecocert/internal/domain"
	"ecocert/internal/ports"
)

// RequestMessage is published on the request topic.
type RequestMessage struct {
	RequestID   domain.RequestID `json:"request_id"`
	Callback    string           `json:"callback"`
	Handles     []domain.Handle  `json:"handles"`
	Ciphertexts [][]byte         `json:"ciphertexts"`
	IssuedAt    time.Time        `json:"issued_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Exporter serializes the ciphertext behind a handle.
type Exporter interface {
	Export(ctx context.Context, handle domain.Handle) ([]byte, error)
}

// Oracle implements ports.DisclosureOracle by publishing requests.
type Oracle struct {
	w   messageWriter
	ops Exporter
	log *zap.Logger
}

var _ ports.DisclosureOracle = (*Oracle)(nil)

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func NewOracle(w messageWriter, ops Exporter, log *zap.Logger) *Oracle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Oracle{w: w, ops: ops, log: log.With(zap.String("component", "kafka-oracle"))}
}

func (o *Oracle) SubmitDisclosureRequest(ctx context.Context, handles []domain.Handle, callback string) (domain.RequestID, error) {
	if len(handles) == 0 {
		return "", errors.New("disclosure request without handles")
	}
	msg := RequestMessage{
		RequestID: domain.RequestID("dr_" + uuid.NewString()),
		Callback:  callback,
		Handles:   handles,
		IssuedAt:  time.Now().UTC(),
	}
	for _, h := range handles {
		ct, err := o.ops.Export(ctx, h)
		if err != nil {
			return "", fmt.Errorf("export %s: %w", h, err)
		}
		msg.Ciphertexts = append(msg.Ciphertexts, ct)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	if err := o.w.WriteMessages(ctx, kafka.Message{Key: []byte(msg.RequestID), Value: b, Time: msg.IssuedAt}); err != nil {
		return "", fmt.Errorf("publish request: %w", err)
	}
	o.log.Info("disclosure request published", zap.String("request_id", string(msg.RequestID)))
	return msg.RequestID, nil
}
