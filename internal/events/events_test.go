// internal/events/events_test.go
package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	name string
	log  *[]string
}

func (r recorder) LoggingStarted(id int64, _ time.Time) { *r.log = append(*r.log, r.name+" start") }
func (r recorder) LoggingStopped()                      { *r.log = append(*r.log, r.name+" stop") }

func TestHub_Order(t *testing.T) {
	var log []string
	var h Hub
	h.Subscribe(recorder{"serial", &log})
	h.Subscribe(recorder{"scanner", &log})

	h.LoggingStarted(1, time.Now())
	h.LoggingStopped()

	assert.Equal(t, []string{"serial start", "scanner start", "scanner stop", "serial stop"}, log)
}

func TestHub_Empty(t *testing.T) {
	var h Hub
	h.LoggingStarted(1, time.Now())
	h.LoggingStopped()
}
