package router

import (
	"errors"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mqy/minichat/model"
)

const (
	DefaultHostTopic  = "chat/host"
	DefaultGuestTopic = "chat/guest"
)

var (
	ErrUnknownTopic     = errors.New("router: unknown topic")
	ErrMalformedPayload = errors.New("router: malformed payload")
)

// Router maps inbound topics to origins and normalizes payloads into messages.
type Router struct {
	routes       map[string]model.Origin
	defaultColor model.Color
	self         string // client id, payloads carrying it as sender are tagged self
}

type Option func(*Router)

func WithDefaultColor(c model.Color) Option {
	return func(r *Router) { r.defaultColor = c }
}

func WithSelf(clientId string) Option {
	return func(r *Router) { r.self = clientId }
}

func New(routes map[string]model.Origin, opts ...Option) *Router {
	r := &Router{
		routes:       make(map[string]model.Origin, len(routes)),
		defaultColor: model.ColorBlack,
	}
	for topic, origin := range routes {
		r.routes[topic] = origin
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRoutes is the host/guest table.
func DefaultRoutes(hostTopic, guestTopic string) map[string]model.Origin {
	return map[string]model.Origin{
		hostTopic:  model.OriginHost,
		guestTopic: model.OriginGuest,
	}
}

func (r *Router) Topics() []string {
	out := make([]string, 0, len(r.routes))
	for topic := range r.routes {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Decode turns a raw payload received on topic into a message.
// `now` stamps payloads without a `time` field.
func (r *Router) Decode(topic string, payload []byte, now time.Time) (model.Message, error) {
	origin, ok := r.routes[topic]
	if !ok {
		return model.Message{}, ErrUnknownTopic
	}

	if !gjson.ValidBytes(payload) {
		return model.Message{}, ErrMalformedPayload
	}
	v := gjson.ParseBytes(payload)
	if !v.IsObject() {
		return model.Message{}, ErrMalformedPayload
	}

	text := v.Get("text")
	if text.Type != gjson.String || text.Str == "" {
		return model.Message{}, ErrMalformedPayload
	}

	msg := model.Message{
		Text:   text.Str,
		Color:  r.defaultColor,
		Origin: origin,
		Time:   now.UnixMilli(),
	}

	if c := v.Get("color"); c.Exists() {
		msg.Color = model.CoerceColor(c.String())
	}
	if ts := v.Get("time"); ts.Type == gjson.Number {
		msg.Time = ts.Int()
	}
	if r.self != "" {
		if s := v.Get("sender"); s.Type == gjson.String && s.Str == r.self {
			msg.Origin = model.OriginSelf
		}
	}
	return msg, nil
}
