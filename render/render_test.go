package render

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/model"
	"github.com/mqy/minichat/timeline"
)

func TestPalette(t *testing.T) {
	for _, c := range model.Colors {
		_, ok := palette[c]
		assert.True(t, ok, "missing color %s", c)
	}
	assert.Equal(t, palette[model.ColorBlack], colorOf(model.Color("neon")))
}

func TestTimeline(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	msgs := []model.Message{
		{Text: "hi", Color: model.ColorRed, Origin: model.OriginSelf, Time: day1.UnixMilli()},
		{Text: "yo", Color: model.ColorBlue, Origin: model.OriginGuest, Time: day1.Add(time.Minute).UnixMilli()},
		{Text: "next day", Color: model.ColorGreen, Origin: model.OriginHost, Time: day2.UnixMilli()},
	}

	r := New(40, time.UTC)
	out := r.Timeline(timeline.GroupByDay(msgs, time.UTC))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 5)

	assert.Contains(t, lines[0], "Fri, Mar 1 2024")
	assert.Contains(t, lines[1], "hi")
	assert.Contains(t, lines[1], "10:00")
	assert.Contains(t, lines[2], "yo")
	assert.Contains(t, lines[3], "Sat, Mar 2 2024")
	assert.Contains(t, lines[4], "next day")

	// own message is pushed to the right edge, others start at the left.
	assert.Equal(t, 40, lipgloss.Width(lines[1]))
	assert.True(t, strings.HasPrefix(lines[1], "     "))
	assert.False(t, strings.HasPrefix(lines[2], "  "))
}

func TestBubbleWraps(t *testing.T) {
	r := New(30, time.UTC)
	m := &model.Message{Text: strings.Repeat("word ", 20), Origin: model.OriginGuest}

	out := r.Bubble(m)
	assert.Greater(t, lipgloss.Height(out), 1)
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 30)
	}
}

func TestStatus(t *testing.T) {
	r := New(0, nil)
	assert.Contains(t, r.Status(model.StatusConnected), "Connected")
	assert.Contains(t, r.Status(model.StatusReconnecting), "Reconnecting")
	assert.Contains(t, r.Status(model.Status(42)), "Unknown")
}
