package store

import (
	"time"

	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
)

// Stats aggregates history as of now.
func (s *Store) Stats(now time.Time) settings.Stats {
	return ComputeStats(s.History(), now)
}

func ComputeStats(history []call.Call, now time.Time) settings.Stats {
	var st settings.Stats
	y, m, d := now.Date()
	for _, c := range history {
		st.TotalCalls++
		if c.Direction == call.DirectionInbound {
			st.InboundCalls++
		} else {
			st.OutboundCalls++
		}
		switch {
		case c.Answered():
			st.AnsweredCalls++
			st.TotalTalkSeconds += c.DurationSeconds
		case c.State == call.StateError || c.Disposition == call.DispositionFailed:
			st.FailedCalls++
		case c.Direction == call.DirectionInbound || c.Disposition.Missed():
			st.MissedCalls++
		}
		cy, cm, cd := c.StartedAt.In(now.Location()).Date()
		if cy == y && cm == m && cd == d {
			st.TodayCalls++
		}
	}
	if st.AnsweredCalls > 0 {
		st.AverageTalkSeconds = float64(st.TotalTalkSeconds) / float64(st.AnsweredCalls)
	}
	if st.TotalCalls > 0 {
		st.AnswerRate = float64(st.AnsweredCalls) / float64(st.TotalCalls)
	}
	return st
}
