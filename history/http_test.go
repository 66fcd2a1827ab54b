package history

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/model"
)

func TestHTTPStoreLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/history", r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"text":"hi","color":"red","time":1000},
			{"text":"yo","color":"neon","time":2000,"received":true},
			{"text":"hey","origin":"host","time":3000},
			{"text":"","color":"red"},
			{"color":"blue"},
			"junk",
			{"text":"later"}
		]`)
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL+"/", srv.Client())
	now := time.UnixMilli(9000)
	s.now = func() time.Time { return now }

	msgs, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Message{
		{Text: "hi", Color: model.ColorRed, Origin: model.OriginSelf, Time: 1000},
		{Text: "yo", Color: model.ColorBlack, Origin: model.OriginGuest, Time: 2000},
		{Text: "hey", Color: model.ColorBlack, Origin: model.OriginHost, Time: 3000},
		{Text: "later", Color: model.ColorBlack, Origin: model.OriginSelf, Time: 9000},
	}, msgs)
}

func TestHTTPStoreLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"status", http.StatusInternalServerError, `[]`},
		{"invalid json", http.StatusOK, `[{"text":`},
		{"not array", http.StatusOK, `{"text":"hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			msgs, err := NewHTTPStore(srv.URL, nil).Load(context.Background())
			assert.Error(t, err)
			assert.Nil(t, msgs)
		})
	}
}

func TestHTTPStoreAppend(t *testing.T) {
	got := make(chan model.Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/history", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p model.Payload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got <- p
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL, nil)
	require.NoError(t, s.Append(context.Background(), &model.Payload{Text: "hi", Color: model.ColorRed}))
	assert.Equal(t, model.Payload{Text: "hi", Color: model.ColorRed}, <-got)
}

func TestHTTPStoreAppendStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewHTTPStore(srv.URL, nil).Append(context.Background(), &model.Payload{Text: "hi"})
	assert.ErrorContains(t, err, "400")
}

func TestNopStore(t *testing.T) {
	var s IHistoryStore = NopStore{}
	msgs, err := s.Load(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, s.Append(context.Background(), &model.Payload{Text: "x"}))
}
