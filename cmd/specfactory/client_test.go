package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodcar/agentic-software-factory/internal/archive"
	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/session"
)

func TestSendMessage(t *testing.T) {
	t.Run("posts the text and decodes the turn result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/sessions/sess-1/messages", r.URL.Path)

			var req MessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "approve", req.Text)

			json.NewEncoder(w).Encode(session.TurnResult{
				SessionID: "sess-1",
				Phase:     session.PhaseApproved,
				Replies: []session.Message{
					{Author: session.AuthorSystem, Text: "Approved."},
				},
			})
		}))
		defer server.Close()

		client := newAPIClient(server.URL)
		result, err := client.sendMessage("sess-1", "approve")

		require.NoError(t, err)
		assert.Equal(t, "sess-1", result.SessionID)
		assert.Equal(t, session.PhaseApproved, result.Phase)
		require.Len(t, result.Replies, 1)
		assert.Equal(t, session.AuthorSystem, result.Replies[0].Author)
	})

	t.Run("empty session id mints a fresh one", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			var req MessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(session.TurnResult{SessionID: "ignored"})
		}))
		defer server.Close()

		client := newAPIClient(server.URL)
		_, err := client.sendMessage("", "Build a to-do list API")

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(gotPath, "/api/v1/sessions/"))
		assert.True(t, strings.HasSuffix(gotPath, "/messages"))
		id := strings.TrimSuffix(strings.TrimPrefix(gotPath, "/api/v1/sessions/"), "/messages")
		_, parseErr := uuid.Parse(id)
		assert.NoError(t, parseErr, "generated session id should be a uuid")
	})

	t.Run("surfaces the echo error envelope message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"message": "a turn is already in progress"})
		}))
		defer server.Close()

		client := newAPIClient(server.URL)
		_, err := client.sendMessage("sess-1", "hello")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 409")
		assert.Contains(t, err.Error(), "a turn is already in progress")
	})
}

func TestGetSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/sess-2", r.URL.Path)
		json.NewEncoder(w).Encode(session.Snapshot{
			ID:    "sess-2",
			Phase: session.PhaseAwaitingFeedback,
			Idea:  "Build a to-do list API",
		})
	}))
	defer server.Close()

	client := newAPIClient(server.URL)
	snap, err := client.getSession("sess-2")

	require.NoError(t, err)
	assert.Equal(t, "sess-2", snap.ID)
	assert.Equal(t, session.PhaseAwaitingFeedback, snap.Phase)
}

func TestCloseSession(t *testing.T) {
	t.Run("accepts 204", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		client := newAPIClient(server.URL)
		assert.NoError(t, client.closeSession("sess-3"))
	})

	t.Run("rejects not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "session not found"})
		}))
		defer server.Close()

		client := newAPIClient(server.URL)
		err := client.closeSession("missing")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "session not found")
	})
}

func TestExport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/sess-4/export/test_plan", r.URL.Path)
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("Work Item Type,Title,Test Step,Step Action,Step Expected\n"))
	}))
	defer server.Close()

	client := newAPIClient(server.URL)
	body, err := client.export("sess-4", document.KindTestPlan, "csv")

	require.NoError(t, err)
	assert.Contains(t, string(body), "Work Item Type")
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/archive/search", r.URL.Path)
		assert.Equal(t, "todo api", r.URL.Query().Get("q"))
		assert.Equal(t, "3", r.URL.Query().Get("k"))
		json.NewEncoder(w).Encode(SearchResponse{
			Query: "todo api",
			Hits: []archive.Hit{
				{ID: "h1", ProjectName: "To-Do List API", Kind: "functional_spec", Version: 2, Score: 0.91},
			},
		})
	}))
	defer server.Close()

	client := newAPIClient(server.URL)
	result, err := client.search("todo api", 3)

	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "To-Do List API", result.Hits[0].ProjectName)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly10!", truncate("exactly10!", 10))
	assert.Equal(t, "a long ...", truncate("a long string well past", 10))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "# Spec", firstLine("\n\n# Spec\nbody"))
	assert.Equal(t, "", firstLine("  \n\t\n"))
}

func TestAuthorLabel(t *testing.T) {
	assert.Equal(t, "You", authorLabel(session.AuthorUser))
	assert.Equal(t, "Test Planner", authorLabel(session.AuthorTestPlanner))
	assert.Equal(t, "someone", authorLabel(session.Author("someone")))
}
