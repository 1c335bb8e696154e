package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestAPIRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{
			"conversations": []domain.ConversationSummary{{ID: "a_b", UnreadCount: 2}},
		})
	})
	mux.HandleFunc("GET /chat", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "b", q.Get("peerId"))
		assert.Equal(t, "get", q.Get("action"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "1234", q.Get("before"))
		writeJSON(w, Page{
			Messages: []domain.WireMessage{{ID: "m1", Text: "hi"}},
			HasMore:  true,
		})
	})
	mux.HandleFunc("POST /chat/seen", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, map[string]any{"chatId": body["chatId"], "marked": 4})
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "ghost" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, Profile{
			UserProfile: domain.UserProfile{ID: r.PathValue("id"), Name: "Bob"},
			Online:      true,
		})
	})
	mux.HandleFunc("PUT /users/me", func(w http.ResponseWriter, r *http.Request) {
		var p domain.UserProfile
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		p.ID = "alice"
		writeJSON(w, p)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api := NewAPI(srv.URL + "/")
	api.SetToken("tok")
	ctx := context.Background()

	convs, err := api.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 2, convs[0].UnreadCount)

	page, err := api.LoadMessages(ctx, "b", 10, 1234)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, "m1", page.Messages[0].ID)

	n, err := api.MarkSeen(ctx, "a_b")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	p, err := api.Lookup(ctx, "b")
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.Equal(t, "Bob", p.Name)

	me, err := api.UpdateProfile(ctx, domain.UserProfile{Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.UserProfile{ID: "alice", Name: "Alice"}, *me)

	_, err = api.Profile(ctx, "ghost")
	assert.ErrorContains(t, err, "404")
}

func TestAPIUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewAPI(srv.URL).Conversations(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
