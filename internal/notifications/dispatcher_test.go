package notifications

import (
	"bytes"
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogDispatcherWritesEveryField(t *testing.T) {
	var buf bytes.Buffer
	d := NewLogDispatcher(log.New(&buf, "", 0))

	err := d.Dispatch(context.Background(), Notification{
		TenantID:    "acme",
		RecipientID: 9,
		Channel:     "in_app",
		TemplateKey: "sla-warning",
		Data:        map[string]interface{}{"threshold_percent": 75},
	})
	require.NoError(t, err)

	line := buf.String()
	assert.Contains(t, line, "tenant=acme")
	assert.Contains(t, line, "recipient=9")
	assert.Contains(t, line, "channel=in_app")
	assert.Contains(t, line, "template=sla-warning")
	assert.Contains(t, line, "threshold_percent")
}

func TestLogDispatcherNilLoggerFallsBack(t *testing.T) {
	d := NewLogDispatcher(nil)
	assert.NoError(t, d.Dispatch(context.Background(), Notification{TenantID: "acme"}))
}

func TestMemoryDispatcherFailureInjection(t *testing.T) {
	d := NewMemoryDispatcher()
	d.FailChannels = map[string]bool{"email": true}

	require.Error(t, d.Dispatch(context.Background(), Notification{Channel: "email"}))
	require.NoError(t, d.Dispatch(context.Background(), Notification{Channel: "in_app"}))
	assert.Len(t, d.Sent(), 1)
}
