// Package scheduler fires named jobs on cron or interval schedules in a
// configured time zone.
//
// Each schedule runs at most once at a time: a trigger that arrives while the
// previous run is still in flight is skipped and recorded as such.
package scheduler
