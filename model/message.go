package model

import "time"

type Color string

const (
	ColorBlack  Color = "black"
	ColorGray   Color = "gray"
	ColorBrown  Color = "brown"
	ColorOrange Color = "orange"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorPurple Color = "purple"
	ColorPink   Color = "pink"
	ColorRed    Color = "red"
)

// Colors lists every renderable color tag, in palette order.
var Colors = []Color{
	ColorBlack, ColorGray, ColorBrown, ColorOrange, ColorYellow,
	ColorGreen, ColorBlue, ColorPurple, ColorPink, ColorRed,
}

func ParseColor(s string) (Color, bool) {
	for _, c := range Colors {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// CoerceColor maps unknown values to black, so a message always stays renderable.
func CoerceColor(s string) Color {
	if c, ok := ParseColor(s); ok {
		return c
	}
	return ColorBlack
}

type Origin string

const (
	OriginSelf  Origin = "self"
	OriginHost  Origin = "host"
	OriginGuest Origin = "guest"
)

func ParseOrigin(s string) (Origin, bool) {
	switch o := Origin(s); o {
	case OriginSelf, OriginHost, OriginGuest:
		return o, true
	}
	return "", false
}

// Message is the unit of display.
type Message struct {
	Text   string `json:"text"`
	Color  Color  `json:"color"`
	Origin Origin `json:"origin"`
	Time   int64  `json:"time"` // epoch millis
}

func (m *Message) CreateTime() time.Time {
	return time.UnixMilli(m.Time)
}

// Received reports whether the message was produced by someone else.
func (m *Message) Received() bool {
	return m.Origin != OriginSelf
}

// DayGroup is a display-only partition of the timeline by calendar day.
type DayGroup struct {
	Date     time.Time // midnight of the day
	Messages []Message
}

// Payload is the outbound wire form, published on the broker and mirrored to history.
type Payload struct {
	Text   string `json:"text"`
	Color  Color  `json:"color,omitempty"`
	Time   int64  `json:"time,omitempty"`
	Sender string `json:"sender,omitempty"` // broker client id of the publisher
}
