package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/tidwall/gjson"

	"github.com/mqy/minichat/model"
)

const (
	historyPath = "/history"

	// max response body size to read.
	readLimit = 4 << 20
)

// HTTPStore talks to the history endpoint: GET and POST <base>/history.
type HTTPStore struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{
		url:    strings.TrimRight(baseURL, "/") + historyPath,
		client: client,
		now:    time.Now,
	}
}

func (s *HTTPStore) Load(ctx context.Context) ([]model.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status: %s", s.url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, readLimit))
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", s.url, err)
	}
	return decodeHistory(body, s.now())
}

func (s *HTTPStore) Append(ctx context.Context, p *model.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error marshal payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, readLimit))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s: unexpected status: %s", s.url, resp.Status)
	}
	return nil
}

// decodeHistory parses a JSON array of records. Records that do not decode are skipped.
func decodeHistory(body []byte, now time.Time) ([]model.Message, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("history: invalid json")
	}
	v := gjson.ParseBytes(body)
	if !v.IsArray() {
		return nil, fmt.Errorf("history: expect json array, got %s", v.Type)
	}

	var out []model.Message
	var skipped int
	v.ForEach(func(_, r gjson.Result) bool {
		if m, ok := decodeRecord(r, now); ok {
			out = append(out, m)
		} else {
			skipped++
		}
		return true
	})
	if skipped > 0 {
		glog.Warningf("history: skipped %d bad records", skipped)
	}
	return out, nil
}

// decodeRecord reads `{text, color, time?, origin?, received?}`.
// Without `origin`, `received: true` means guest, otherwise self.
func decodeRecord(r gjson.Result, now time.Time) (model.Message, bool) {
	if !r.IsObject() {
		return model.Message{}, false
	}
	text := r.Get("text")
	if text.Type != gjson.String || text.Str == "" {
		return model.Message{}, false
	}

	m := model.Message{
		Text:   text.Str,
		Color:  model.CoerceColor(r.Get("color").String()),
		Origin: model.OriginSelf,
		Time:   now.UnixMilli(),
	}
	if ts := r.Get("time"); ts.Type == gjson.Number {
		m.Time = ts.Int()
	}
	if o, ok := model.ParseOrigin(r.Get("origin").String()); ok {
		m.Origin = o
	} else if r.Get("received").Bool() {
		m.Origin = model.OriginGuest
	}
	return m, true
}
