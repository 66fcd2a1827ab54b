// Package render draws a session timeline for a terminal.
package render

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mqy/minichat/model"
)

const (
	DefaultWidth = 80

	dayLayout  = "Mon, Jan 2 2006"
	timeLayout = "15:04"
)

// bubble backgrounds, by color tag.
var palette = map[model.Color]lipgloss.Color{
	model.ColorBlack:  lipgloss.Color("#282828"),
	model.ColorGray:   lipgloss.Color("#6b7280"),
	model.ColorBrown:  lipgloss.Color("#d65d0e"),
	model.ColorOrange: lipgloss.Color("#fe8019"),
	model.ColorYellow: lipgloss.Color("#b57614"),
	model.ColorGreen:  lipgloss.Color("#79740e"),
	model.ColorBlue:   lipgloss.Color("#076678"),
	model.ColorPurple: lipgloss.Color("#b16286"),
	model.ColorPink:   lipgloss.Color("#d3869b"),
	model.ColorRed:    lipgloss.Color("#9d0006"),
}

var statusColors = map[model.Status]lipgloss.Color{
	model.StatusConnecting:    lipgloss.Color("#b57614"),
	model.StatusReconnecting:  lipgloss.Color("#fe8019"),
	model.StatusConnected:     lipgloss.Color("#79740e"),
	model.StatusDisconnecting: lipgloss.Color("#6b7280"),
	model.StatusDisconnected:  lipgloss.Color("#9d0006"),
}

var (
	bubbleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fbf1c7")).
			Padding(0, 1)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#928374"))

	dayStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#928374")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().Bold(true)
)

// Renderer is not safe for concurrent use.
type Renderer struct {
	width int
	loc   *time.Location
}

func New(width int, loc *time.Location) *Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{width: width, loc: loc}
}

// Timeline renders day groups top down: a centered date line, then one line
// (or more when wrapped) per message. Own messages are right aligned.
func (r *Renderer) Timeline(groups []model.DayGroup) string {
	var b strings.Builder
	for _, g := range groups {
		b.WriteString(r.Day(g.Date))
		b.WriteByte('\n')
		for i := range g.Messages {
			b.WriteString(r.Bubble(&g.Messages[i]))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (r *Renderer) Day(date time.Time) string {
	label := " " + date.In(r.loc).Format(dayLayout) + " "
	return lipgloss.PlaceHorizontal(r.width, lipgloss.Center, dayStyle.Render(label),
		lipgloss.WithWhitespaceChars("─"))
}

func (r *Renderer) Bubble(m *model.Message) string {
	style := bubbleStyle.Background(colorOf(m.Color))

	// leave room for the time and some indent.
	if limit := r.width*3/4 - len(timeLayout) - 1; lipgloss.Width(m.Text)+2 > limit && limit > 2 {
		style = style.Width(limit)
	}

	bubble := style.Render(m.Text)
	ts := timeStyle.Render(m.CreateTime().In(r.loc).Format(timeLayout))

	if m.Received() {
		return lipgloss.JoinHorizontal(lipgloss.Bottom, bubble, " ", ts)
	}
	line := lipgloss.JoinHorizontal(lipgloss.Bottom, ts, " ", bubble)
	return lipgloss.PlaceHorizontal(r.width, lipgloss.Right, line)
}

func (r *Renderer) Status(s model.Status) string {
	c, ok := statusColors[s]
	if !ok {
		c = statusColors[model.StatusDisconnected]
	}
	return statusStyle.Foreground(c).Render("● " + s.String())
}

func colorOf(c model.Color) lipgloss.Color {
	if v, ok := palette[c]; ok {
		return v
	}
	return palette[model.ColorBlack]
}
