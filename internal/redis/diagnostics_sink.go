package redis

import (
	"context"
	"encoding/json"
	"time"

	"clinic-phone/internal/diagnostics"

	goredis "github.com/redis/go-redis/v9"
)

// Key patterns:
// - phone:diagnostics:{session_id} - capped list, newest first, 24h TTL
const (
	diagnosticsKeyPrefix = "phone:diagnostics:"
	diagnosticsTTL       = 24 * time.Hour
)

// DiagnosticsSink mirrors diagnostic entries into a capped Redis list so they
// can be inspected from outside the process.
type DiagnosticsSink struct {
	client   *goredis.Client
	capacity int64
}

func NewDiagnosticsSink(client *goredis.Client, capacity int) *DiagnosticsSink {
	if capacity <= 0 {
		capacity = diagnostics.DefaultCapacity
	}
	return &DiagnosticsSink{client: client, capacity: int64(capacity)}
}

func DiagnosticsKey(sessionID string) string {
	return diagnosticsKeyPrefix + sessionID
}

func (s *DiagnosticsSink) Append(ctx context.Context, e diagnostics.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := DiagnosticsKey(e.SessionID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.capacity-1)
	pipe.Expire(ctx, key, diagnosticsTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent reads up to limit mirrored entries of a session, newest first.
func (s *DiagnosticsSink) Recent(ctx context.Context, sessionID string, limit int64) ([]diagnostics.Entry, error) {
	if limit <= 0 || limit > s.capacity {
		limit = s.capacity
	}
	raw, err := s.client.LRange(ctx, DiagnosticsKey(sessionID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]diagnostics.Entry, 0, len(raw))
	for _, item := range raw {
		var e diagnostics.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
