package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/exp/slices"
)

// Roles a member can announce.
const (
	RoleCoordinator = "coordinator"
	RoleWorker      = "worker"
)

// Member is one process of the cluster.
type Member struct {
	ID    string   `json:"id"`
	Addr  string   `json:"addr"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the member announced role.
func (m Member) HasRole(role string) bool {
	return slices.Contains(m.Roles, role)
}

// MembersResponse is the body of GET /members.
type MembersResponse struct {
	Members []Member `json:"members"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// GetJSON fetches url and decodes its JSON body into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
