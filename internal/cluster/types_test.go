package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMember tests role lookup and JSON layout
func TestMember(t *testing.T) {
	m := Member{ID: "w-1", Addr: "http://localhost:8081", Roles: []string{RoleWorker}}
	assert.True(t, m.HasRole(RoleWorker))
	assert.False(t, m.HasRole(RoleCoordinator))

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var jsonMap map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &jsonMap))
	assert.Equal(t, "w-1", jsonMap["id"])
	assert.Equal(t, "http://localhost:8081", jsonMap["addr"])
	assert.Equal(t, []interface{}{"worker"}, jsonMap["roles"])
}

// TestGetJSON tests member discovery over GetJSON
func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/members" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(MembersResponse{Members: []Member{
			{ID: "coordinator", Addr: "http://c", Roles: []string{RoleCoordinator}},
		}})
	}))
	defer server.Close()

	var resp MembersResponse
	require.NoError(t, GetJSON(context.Background(), server.URL+"/members", &resp))
	require.Len(t, resp.Members, 1)
	assert.True(t, resp.Members[0].HasRole(RoleCoordinator))

	err := GetJSON(context.Background(), server.URL+"/missing", &resp)
	assert.Error(t, err)

	err = GetJSON(context.Background(), "://invalid-url", &resp)
	assert.Error(t, err)
}
