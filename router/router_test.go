package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/model"
)

var receipt = time.UnixMilli(2000)

func newTestRouter(opts ...Option) *Router {
	return New(DefaultRoutes(DefaultHostTopic, DefaultGuestTopic), opts...)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, []string{"chat/guest", "chat/host"}, newTestRouter().Topics())
}

func TestDecode(t *testing.T) {
	r := newTestRouter()

	msg, err := r.Decode("chat/host", []byte(`{"text":"hello","color":"green","time":1234}`), receipt)
	require.NoError(t, err)
	assert.Equal(t, model.Message{Text: "hello", Color: model.ColorGreen, Origin: model.OriginHost, Time: 1234}, msg)

	msg, err = r.Decode("chat/guest", []byte(`{"text":"yo","color":"neon"}`), receipt)
	require.NoError(t, err)
	assert.Equal(t, model.Message{Text: "yo", Color: model.ColorBlack, Origin: model.OriginGuest, Time: 2000}, msg)
}

func TestDecodeColor(t *testing.T) {
	r := newTestRouter(WithDefaultColor(model.ColorBlue))

	for payload, want := range map[string]model.Color{
		`{"text":"x"}`:                model.ColorBlue,
		`{"text":"x","color":"pink"}`: model.ColorPink,
		`{"text":"x","color":"Pink"}`: model.ColorBlack,
		`{"text":"x","color":42}`:     model.ColorBlack,
		`{"text":"x","color":null}`:   model.ColorBlack,
		`{"text":"x","color":""}`:     model.ColorBlack,
	} {
		msg, err := r.Decode("chat/guest", []byte(payload), receipt)
		require.NoError(t, err, payload)
		assert.Equal(t, want, msg.Color, payload)
	}
}

func TestDecodeTime(t *testing.T) {
	r := newTestRouter()

	msg, err := r.Decode("chat/guest", []byte(`{"text":"x","time":"soon"}`), receipt)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), msg.Time)

	msg, err = r.Decode("chat/guest", []byte(`{"text":"x","time":1700000000000}`), receipt)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), msg.Time)
}

func TestDecodeErrors(t *testing.T) {
	r := newTestRouter()

	_, err := r.Decode("chat/admin", []byte(`{"text":"x"}`), receipt)
	assert.ErrorIs(t, err, ErrUnknownTopic)

	for _, payload := range []string{
		``,
		`not json`,
		`{"text":`,
		`["text"]`,
		`"text"`,
		`{}`,
		`{"text":""}`,
		`{"text":7}`,
		`{"color":"red"}`,
	} {
		_, err := r.Decode("chat/guest", []byte(payload), receipt)
		assert.ErrorIs(t, err, ErrMalformedPayload, "payload %q", payload)
	}
}

func TestDecodeSelf(t *testing.T) {
	r := newTestRouter(WithSelf("c1"))

	msg, err := r.Decode("chat/guest", []byte(`{"text":"x","sender":"c1"}`), receipt)
	require.NoError(t, err)
	assert.Equal(t, model.OriginSelf, msg.Origin)

	msg, err = r.Decode("chat/guest", []byte(`{"text":"x","sender":"c2"}`), receipt)
	require.NoError(t, err)
	assert.Equal(t, model.OriginGuest, msg.Origin)

	// without a configured client id, sender is ignored
	msg, err = newTestRouter().Decode("chat/host", []byte(`{"text":"x","sender":""}`), receipt)
	require.NoError(t, err)
	assert.Equal(t, model.OriginHost, msg.Origin)
}
