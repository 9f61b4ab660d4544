/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route wiring
*/
package api

import (
	"github.com/warp/screentime-engine/engine"
)

// =============================================================================
// APPS
// =============================================================================

// AppDTO represents one monitored application.
type AppDTO struct {
	ID              string          `json:"id"`
	DisplayName     string          `json:"display_name"`
	Category        string          `json:"category"`
	PointsPerMinute int64           `json:"points_per_minute"`
	LifetimeSeconds int64           `json:"lifetime_seconds"`
	LifetimePoints  int64           `json:"lifetime_points"`
	TodaySeconds    int64           `json:"today_seconds"`
	TodayPoints     int64           `json:"today_points"`
	LastResetDate   string          `json:"last_reset_date"`
	State           string          `json:"state,omitempty"` // reward apps only
	DailyHistory    []DailyTotalDTO `json:"daily_history,omitempty"`
}

// DailyTotalDTO is one archived day.
type DailyTotalDTO struct {
	Date    string `json:"date"`
	Seconds int64  `json:"seconds"`
	Points  int64  `json:"points"`
}

// UpsertAppRequest enrolls or updates a monitored app. Ref is the
// opaque platform reference; the server derives the logical ID.
type UpsertAppRequest struct {
	Ref             string `json:"ref"`
	DisplayName     string `json:"display_name"`
	Category        string `json:"category"`
	PointsPerMinute int64  `json:"points_per_minute"`
}

// =============================================================================
// EVENTS (monitoring bridge)
// =============================================================================

// ThresholdEventRequest is one raw minute-crossing notification
// forwarded by the monitoring bridge.
type ThresholdEventRequest struct {
	Ref            string `json:"ref"`
	ThresholdIndex int    `json:"threshold_index"`
}

// EventResultDTO reports the validation outcome.
type EventResultDTO struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// =============================================================================
// BALANCE AND UNLOCKS
// =============================================================================

// BalanceDTO is the ledger aggregate.
type BalanceDTO struct {
	Available     int64 `json:"available"`
	TotalEarned   int64 `json:"total_earned"`
	TotalReserved int64 `json:"total_reserved"`
	TotalConsumed int64 `json:"total_consumed"`
}

// RedeemRequest exchanges points for reward minutes.
type RedeemRequest struct {
	Minutes int64 `json:"minutes"`
}

// UnlockedDTO represents an active reward reservation.
type UnlockedDTO struct {
	ID               string `json:"id"`
	ReservedPoints   int64  `json:"reserved_points"`
	PointsPerMinute  int64  `json:"points_per_minute"`
	RemainingMinutes int64  `json:"remaining_minutes"`
	UnlockedAt       string `json:"unlocked_at"`
}

// =============================================================================
// RESTRICTED SET AND SYNC
// =============================================================================

// RestrictedSetDTO lists currently restricted reward apps.
type RestrictedSetDTO struct {
	Restricted []string `json:"restricted"`
}

// RemoteChangeRequest is one app's configuration delta from the
// remote device.
type RemoteChangeRequest struct {
	ID              string  `json:"id"`
	PointsPerMinute *int64  `json:"points_per_minute,omitempty"`
	Category        *string `json:"category,omitempty"`
	DisplayName     *string `json:"display_name,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

// AppSummaryDTO is one app's derived statistics.
type AppSummaryDTO struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	Category        string `json:"category"`
	TodayMinutes    int64  `json:"today_minutes"`
	LifetimeMinutes int64  `json:"lifetime_minutes"`
	AvgDailyMinutes string `json:"avg_daily_minutes"`
	UsageShare      string `json:"usage_share"`
}

// ReportDTO is the dashboard statistics view.
type ReportDTO struct {
	Balance         BalanceDTO      `json:"balance"`
	Apps            []AppSummaryDTO `json:"apps"`
	EarnRatePerHour string          `json:"earn_rate_per_hour"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAppDTO(rec *engine.AppRecord, state string) AppDTO {
	dto := AppDTO{
		ID:              string(rec.LogicalID),
		DisplayName:     rec.DisplayName,
		Category:        rec.Category.String(),
		PointsPerMinute: rec.PointsPerMinute,
		LifetimeSeconds: rec.LifetimeSeconds,
		LifetimePoints:  rec.LifetimePoints,
		TodaySeconds:    rec.TodaySeconds,
		TodayPoints:     rec.TodayPoints,
		LastResetDate:   rec.LastResetDate,
		State:           state,
	}
	for _, d := range rec.DailyHistory {
		dto.DailyHistory = append(dto.DailyHistory, DailyTotalDTO(d))
	}
	return dto
}

func toUnlockedDTO(u *engine.UnlockedRewardApp) UnlockedDTO {
	return UnlockedDTO{
		ID:               string(u.LogicalID),
		ReservedPoints:   u.ReservedPoints,
		PointsPerMinute:  u.PointsPerMinute,
		RemainingMinutes: u.RemainingMinutes(),
		UnlockedAt:       u.UnlockedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toBalanceDTO(b engine.BalanceSnapshot) BalanceDTO {
	return BalanceDTO{
		Available:     b.Available(),
		TotalEarned:   b.TotalEarned,
		TotalReserved: b.TotalReserved,
		TotalConsumed: b.TotalConsumed,
	}
}
