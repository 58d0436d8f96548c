package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// NoLeaderElection disables the elector lookup entirely; every instance
// considers itself leader. Used outside clustered deployments.
const NoLeaderElection = "NOLEADERELECTION"

const leaderCacheTTL = 2 * time.Minute

// LeaderElector asks an elector sidecar which instance currently leads and
// compares the answer with its own hostname. Lookups are cached; leadership
// does not change often enough to justify a call per task tick.
type LeaderElector struct {
	electorURL string
	hostname   string
	client     *http.Client

	mu       sync.Mutex
	isLeader bool
	checked  time.Time
}

func NewLeaderElector(electorPath string) (*LeaderElector, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve own hostname: %w", err)
	}

	url := ""
	if electorPath != "" && electorPath != NoLeaderElection {
		url = electorPath
		if !strings.HasPrefix(url, "http") {
			url = "http://" + url
		}
	}

	return &LeaderElector{
		electorURL: url,
		hostname:   hostname,
		client:     &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// IsLeader reports whether this instance currently leads. Without an elector
// configured it always answers true. A failed lookup answers false; a task
// skipping one tick is cheaper than two instances running it.
func (e *LeaderElector) IsLeader(ctx context.Context) bool {
	if e.electorURL == "" {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.checked) < leaderCacheTTL {
		return e.isLeader
	}

	leader, err := e.lookupLeader(ctx)
	if err != nil {
		slog.Warn("Leader lookup failed", "error", err)
		e.isLeader = false
	} else {
		e.isLeader = leader == e.hostname
	}
	e.checked = time.Now()
	return e.isLeader
}

func (e *LeaderElector) lookupLeader(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.electorURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("elector answered %s", resp.Status)
	}

	var answer struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return "", fmt.Errorf("failed to decode elector answer: %w", err)
	}
	return answer.Name, nil
}
