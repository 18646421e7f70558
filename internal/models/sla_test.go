package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPausesOnStatus(t *testing.T) {
	settings := &SlaSettings{
		TenantID:              "acme",
		PauseOnAwaitingClient: true,
		PausingStatuses:       []string{"on_hold"},
	}

	tests := []struct {
		name       string
		status     string
		wantPauses bool
		wantReason PauseReason
	}{
		{"awaiting_client pauses when enabled", "awaiting_client", true, PauseReasonAwaitingClient},
		{"configured status pauses", "on_hold", true, PauseReasonStatusPause},
		{"unrelated status does not pause", "in_progress", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pauses, reason := settings.PausesOnStatus(tt.status)
			assert.Equal(t, tt.wantPauses, pauses)
			assert.Equal(t, tt.wantReason, reason)
		})
	}

	t.Run("awaiting_client ignored when disabled", func(t *testing.T) {
		off := &SlaSettings{TenantID: "acme"}
		pauses, _ := off.PausesOnStatus("awaiting_client")
		assert.False(t, pauses)
	})
}
