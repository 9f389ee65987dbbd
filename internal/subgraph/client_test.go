package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type pageRequest struct {
	Height string
	Cursor string
	First  int
}

func decodeRequest(t *testing.T, r *http.Request) pageRequest {
	t.Helper()

	var req graphQLRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	require.Contains(t, req.Query, "users(")

	first, ok := req.Variables["first"].(float64)
	require.True(t, ok)

	return pageRequest{
		Height: req.Variables["createdBlockHeightLte"].(string),
		Cursor: req.Variables["idGt"].(string),
		First:  int(first),
	}
}

func usersPayload(ids ...string) string {
	users := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		users = append(users, map[string]any{
			"id":                 id,
			"createdTimestamp":   1700000000 + i,
			"createdBlockHeight": "4768609",
		})
	}
	payload, _ := json.Marshal(map[string]any{"data": map[string]any{"users": users}})
	return string(payload)
}

func TestUsersWalksPagesWithIDCursor(t *testing.T) {
	var requests []pageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		requests = append(requests, req)

		switch req.Cursor {
		case "":
			fmt.Fprint(w, usersPayload("0xaa", "0xbb"))
		case "0xbb":
			fmt.Fprint(w, usersPayload("0xcc", "0xdd"))
		case "0xdd":
			fmt.Fprint(w, usersPayload("0xee"))
		default:
			t.Errorf("unexpected cursor %q", req.Cursor)
		}
	}))
	defer server.Close()

	client := NewClient(ClientOptions{APIURL: server.URL, PageSize: 2}, zerolog.Nop())

	users, err := client.Users(context.Background(), 4768609)
	require.NoError(t, err)
	require.Equal(t, []string{"0xaa", "0xbb", "0xcc", "0xdd", "0xee"}, users)

	require.Len(t, requests, 3)
	for _, req := range requests {
		require.Equal(t, "4768609", req.Height)
		require.Equal(t, 2, req.First)
	}
}

func TestUsersShortFirstPageStopsAfterOneRequest(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, usersPayload("0xaa"))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{APIURL: server.URL, PageSize: 1000}, zerolog.Nop())

	users, err := client.Users(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, []string{"0xaa"}, users)
	require.Equal(t, 1, calls)
}

func TestUsersEmptyDirectory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, usersPayload())
	}))
	defer server.Close()

	client := NewClient(ClientOptions{APIURL: server.URL, PageSize: 1000}, zerolog.Nop())

	users, err := client.Users(context.Background(), 100)
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestUsersSurfacesGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"indexer is behind"}]}`)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{APIURL: server.URL}, zerolog.Nop())

	_, err := client.Users(context.Background(), 100)
	require.ErrorContains(t, err, "indexer is behind")
}

func TestUsersSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{APIURL: server.URL}, zerolog.Nop())

	_, err := client.Users(context.Background(), 100)
	require.ErrorContains(t, err, "502")
}

func TestUsersRequiresAPIURL(t *testing.T) {
	client := NewClient(ClientOptions{}, zerolog.Nop())

	_, err := client.Users(context.Background(), 100)
	require.ErrorContains(t, err, "not configured")
}
