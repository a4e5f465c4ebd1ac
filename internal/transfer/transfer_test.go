package transfer

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestLogSender(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	s := NewLogSender(log)
	ctx := context.Background()

	assert.NoError(t, s.Send(ctx, "k1", "alice", 10))
	assert.Error(t, s.Send(ctx, "", "alice", 10))
	assert.Error(t, s.Send(ctx, "k2", "", 10))
	assert.Error(t, s.Send(ctx, "k2", "alice", 0))

	hook.Reset()
	assert.NoError(t, s.Send(ctx, "k1", "alice", 10))
	assert.NoError(t, s.Send(ctx, "k2", "alice", 10))

	var sent int
	for _, e := range hook.AllEntries() {
		if e.Message == "Transfer sent" {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}
