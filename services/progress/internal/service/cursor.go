package service

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/learning-platform/services/progress/internal/store"
)

// encodeCursor encodes updated_at micros and episode id as an opaque cursor.
// Micros match timestamptz precision; a coarser cursor skips rows that share
// the truncated instant.
func encodeCursor(updatedAt time.Time, episodeID uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(updatedAt.UnixMicro(), 10) + ":" + episodeID.String()))
}

// decodeCursor parses the cursor produced by encodeCursor. Garbage yields nil,
// which restarts from the newest row.
func decodeCursor(raw string) *store.Cursor {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	parts := strings.SplitN(string(b), ":", 2)
	if len(parts) != 2 {
		return nil
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil
	}
	eid, err := uuid.Parse(parts[1])
	if err != nil {
		return nil
	}
	return &store.Cursor{UpdatedAt: time.UnixMicro(ts).UTC(), EpisodeID: eid}
}

func clampLimit(v, def, maxVal int) int {
	if v <= 0 {
		return def
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
