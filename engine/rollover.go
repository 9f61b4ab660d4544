/*
rollover.go - Daily counter rollover

PURPOSE:
  Maintains the today-vs-lifetime split. Today counters are valid only
  for LastResetDate; when a write finds the date stale, yesterday is
  archived into the bounded history and the today counters are zeroed
  BEFORE the new increment is applied.

TRIGGERS:
  1. Lazy, on every write path (credit, reward usage): counters roll
     even if the process slept through midnight.
  2. Explicit DayChanged signal from the host: counters roll even if
     no usage event arrives after midnight.

HISTORY:
  Append-only, oldest first, capped at Config.HistoryCap. Zero-usage
  days are not archived. Eviction drops the oldest entries.
*/
package engine

// rolloverIfStale archives and resets today's counters when the
// record's reset date no longer matches today. Returns true if the
// record was modified. Safe to call on every write.
func rolloverIfStale(rec *AppRecord, today string, historyCap int) bool {
	if rec.LastResetDate == today {
		return false
	}

	// First write ever: stamp the date, nothing to archive.
	if rec.LastResetDate == "" {
		rec.LastResetDate = today
		return true
	}

	if rec.TodaySeconds != 0 || rec.TodayPoints != 0 {
		rec.DailyHistory = append(rec.DailyHistory, DailyTotal{
			Date:    rec.LastResetDate,
			Seconds: rec.TodaySeconds,
			Points:  rec.TodayPoints,
		})
		if over := len(rec.DailyHistory) - historyCap; over > 0 {
			rec.DailyHistory = append(rec.DailyHistory[:0:0], rec.DailyHistory[over:]...)
		}
	}

	rec.TodaySeconds = 0
	rec.TodayPoints = 0
	rec.LastResetDate = today
	return true
}
