package models

// SlaState is the derived headline state of a tracking record.
type SlaState string

const (
	SlaStateOnTrack            SlaState = "on_track"
	SlaStateAtRisk             SlaState = "at_risk"
	SlaStateResponseBreached   SlaState = "response_breached"
	SlaStateResolutionBreached SlaState = "resolution_breached"
	SlaStatePaused             SlaState = "paused"
)

// SlaStatus is a pure projection computed on demand from the tracking record,
// pause history and "now". Nothing here is persisted.
type SlaStatus struct {
	Status                     SlaState    `json:"status"`
	ResponseRemainingMinutes   *int        `json:"response_remaining_minutes,omitempty"`
	ResolutionRemainingMinutes *int        `json:"resolution_remaining_minutes,omitempty"`
	IsPaused                   bool        `json:"is_paused"`
	PauseReason                PauseReason `json:"pause_reason,omitempty"`
	TotalPauseMinutes          int         `json:"total_pause_minutes"`
}
