package timeline

import (
	"errors"
	"time"

	"github.com/mqy/minichat/model"
)

var ErrAlreadySeeded = errors.New("timeline: already seeded")

// Timeline is an append-only log of messages. Read order is insertion order,
// messages are never re-sorted by their timestamps.
// Not safe for concurrent writers: the session loop is the only writer.
type Timeline struct {
	messages []model.Message
	seeded   bool
}

func New() *Timeline {
	return &Timeline{}
}

// Seed puts history messages in front of the log. It is allowed once, before any Append.
func (t *Timeline) Seed(msgs []model.Message) error {
	if t.seeded || len(t.messages) > 0 {
		return ErrAlreadySeeded
	}
	t.seeded = true
	t.messages = append(t.messages, msgs...)
	return nil
}

func (t *Timeline) Append(m model.Message) {
	t.messages = append(t.messages, m)
}

func (t *Timeline) Len() int {
	return len(t.messages)
}

// Messages returns a read-only view. Its capacity is capped so a later Append
// never writes into memory visible through the returned slice.
func (t *Timeline) Messages() []model.Message {
	n := len(t.messages)
	return t.messages[:n:n]
}

func (t *Timeline) GroupedByDay(loc *time.Location) []model.DayGroup {
	return GroupByDay(t.messages, loc)
}

// GroupByDay partitions msgs by calendar day in loc. Groups are ordered by
// the first appearance of their day, messages keep their relative order.
func GroupByDay(msgs []model.Message, loc *time.Location) []model.DayGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []model.DayGroup
	index := make(map[time.Time]int)
	for _, m := range msgs {
		day := Day(m.Time, loc)
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, model.DayGroup{Date: day})
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}
	return groups
}

// Day returns midnight of the calendar day of ts (epoch millis) in loc.
func Day(ts int64, loc *time.Location) time.Time {
	d := time.UnixMilli(ts).In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}
