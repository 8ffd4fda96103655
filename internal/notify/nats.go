// internal/notify/nats.go
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var noticeEnc, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// Publisher is the subset of a NATS connection used for notices.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes CBOR-encoded notices on a subject.
// Publish failures are logged, never returned to the caller.
type NATS struct {
	pub     Publisher
	subject string
	log     *zap.Logger
}

func NewNATS(pub Publisher, subject string, logger *zap.Logger) *NATS {
	return &NATS{pub: pub, subject: subject, log: logger}
}

// Dial connects to a NATS server for notice publishing.
func Dial(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("datalogger"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: nats connect %s: %w", url, err)
	}
	return nc, nil
}

func (n *NATS) Notify(_ context.Context, notice Notice) {
	b, err := noticeEnc.Marshal(notice)
	if err != nil {
		n.log.Warn("notice encode failed", zap.Error(err))
		return
	}
	if err := n.pub.Publish(n.subject+"."+string(notice.Level), b); err != nil {
		n.log.Warn("notice publish failed", zap.String("subject", n.subject), zap.Error(err))
	}
}
