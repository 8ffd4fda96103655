// internal/notify/notify_test.go
package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return p.err
}

func TestNATS_PublishesCBOR(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATS(pub, "datalogger.notices", zap.NewNop())

	in := New(Warning, "serial", "board 08 did not acknowledge")
	n.Notify(context.Background(), in)

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "datalogger.notices.warning", pub.subjects[0])

	var out Notice
	require.NoError(t, cbor.Unmarshal(pub.payloads[0], &out))
	assert.Equal(t, in.Message, out.Message)
	assert.Equal(t, in.Source, out.Source)
	assert.True(t, in.At.Equal(out.At))
}

func TestNATS_PublishErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := NewNATS(&fakePublisher{err: errors.New("no responders")}, "x", zap.New(core))

	n.Notify(context.Background(), New(Error, "netscanner", "gone"))
	assert.Equal(t, 1, logs.FilterMessage("notice publish failed").Len())
}

func TestLogAndMulti(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	pub := &fakePublisher{}

	m := Multi{NewLog(zap.New(core)), NewNATS(pub, "s", zap.NewNop()), Nop{}}
	m.Notify(context.Background(), New(Error, "serial", "port lost"))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
	assert.Len(t, pub.payloads, 1)
}
