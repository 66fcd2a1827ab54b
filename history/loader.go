package history

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/model"
)

const (
	DefaultLoadTimeout   = 5 * time.Second
	DefaultMirrorTimeout = 3 * time.Second
)

// Loader seeds a session from a store and mirrors outbound messages to it.
// Neither operation reports failures to the caller.
type Loader struct {
	store         IHistoryStore
	loadTimeout   time.Duration
	mirrorTimeout time.Duration
}

func NewLoader(store IHistoryStore, loadTimeout time.Duration) *Loader {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	return &Loader{
		store:         store,
		loadTimeout:   loadTimeout,
		mirrorTimeout: DefaultMirrorTimeout,
	}
}

// Load returns the stored messages, or nil when the store fails or is too slow.
func (l *Loader) Load(ctx context.Context) []model.Message {
	ctx2, cancel := context.WithTimeout(ctx, l.loadTimeout)
	defer cancel()

	start := time.Now()
	msgs, err := l.store.Load(ctx2)
	if err != nil {
		glog.Errorf("history: load error, continue with empty history: %v", err)
		return nil
	}
	glog.Infof("history: loaded %d messages, took %s", len(msgs), time.Since(start))
	return msgs
}

// Mirror appends p to the store in the background.
func (l *Loader) Mirror(p *model.Payload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.mirrorTimeout)
		defer cancel()
		if err := l.store.Append(ctx, p); err != nil {
			glog.V(2).Infof("history: mirror error: %v", err)
		}
	}()
}
