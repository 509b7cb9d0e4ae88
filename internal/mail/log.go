package mail

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tazhibayda/fanzone-auth/internal/helper"
)

// LogTransport writes messages to the log instead of sending them. Used when
// SMTP is not configured.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(l *zap.Logger) *LogTransport {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogTransport{logger: l}
}

func (t *LogTransport) Send(_ context.Context, m Message) error {
	t.logger.Info("mail (not sent)",
		zap.String("to_hash", helper.Hash8(m.To)),
		zap.String("subject", m.Subject),
		zap.Int("body_len", len(m.Body)),
	)
	return nil
}

// Outbox keeps messages in memory. Fail makes every send return an error.
type Outbox struct {
	mu   sync.Mutex
	msgs []Message
	Fail bool
}

var ErrOutboxFailure = errors.New("outbox send failure")

func (o *Outbox) Send(_ context.Context, m Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Fail {
		return ErrOutboxFailure
	}
	o.msgs = append(o.msgs, m)
	return nil
}

func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.msgs...)
}

// Last returns the most recent message sent to addr.
func (o *Outbox) Last(addr string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].To == addr {
			return o.msgs[i], true
		}
	}
	return Message{}, false
}
