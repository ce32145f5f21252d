// Package ics converts between iCalendar text and model.Event records.
//
// Date-times are handled UTC-naive: DTSTART/DTEND components are read from
// fixed positions and TZID parameters are ignored, and encoded times are
// floating. Both sides of reconciliation use the same interpretation, so
// matching keys stay stable across a round trip.
package ics

import (
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ProductID is written into every encoded VCALENDAR.
const ProductID = "-//github.com/cyp0633/caldora-sync//NONSGML v1.0//EN"

// Codec decodes and encodes events.
type Codec struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a codec. A nil logger discards per-block decode failures.
func New(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Codec{logger: logger, now: time.Now}
}

// NewUID returns a globally unique resource identifier built from a time
// component and a random component.
func NewUID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + uuid.New().String()
}
