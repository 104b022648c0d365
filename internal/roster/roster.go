// Package roster tracks the known team: member handles across the tracker and
// the source host, project keys, and repository names. The snapshot seeds the
// intent parser prompt so the model can map colloquial names to real handles.
package roster

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Member maps one person's display name to their per-system handles.
type Member struct {
	Name   string `yaml:"name"`
	Jira   string `yaml:"jira"`
	GitHub string `yaml:"github"`
}

// Snapshot is an immutable view of the known domain entities.
type Snapshot struct {
	Members      []Member `yaml:"members"`
	Projects     []string `yaml:"projects"`
	Repositories []string `yaml:"repositories"`
}

// FetchFunc pulls a fresh entity list from a live adapter.
type FetchFunc func(ctx context.Context) ([]string, error)

// Roster holds the current snapshot and optionally refreshes the project and
// repository lists on a cron schedule. Members only change via the file.
type Roster struct {
	mu     sync.RWMutex
	snap   Snapshot
	cron   *cron.Cron
	logger *zap.Logger
}

// LoadFile parses a roster yaml file.
func LoadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read roster: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse roster: %w", err)
	}
	return snap, nil
}

func New(snap Snapshot, logger *zap.Logger) *Roster {
	return &Roster{
		snap:   snap,
		logger: logger,
	}
}

// Snapshot returns the current view. The returned value is a copy; callers
// never observe a partial refresh.
func (r *Roster) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// StartRefresh schedules periodic refresh of projects and repositories from
// the live systems. An empty spec disables refresh.
func (r *Roster) StartRefresh(spec string, projects, repositories FetchFunc) error {
	if spec == "" {
		return nil
	}

	r.cron = cron.New()
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r.refresh(ctx, projects, repositories)
	})
	if err != nil {
		return fmt.Errorf("invalid refresh spec %q: %w", spec, err)
	}

	r.cron.Start()
	return nil
}

// Stop halts scheduled refreshes.
func (r *Roster) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

func (r *Roster) refresh(ctx context.Context, projects, repositories FetchFunc) {
	next := r.Snapshot()
	changed := false

	if projects != nil {
		if list, err := projects(ctx); err != nil {
			r.logger.Warn("roster project refresh failed", zap.Error(err))
		} else if len(list) > 0 {
			next.Projects = list
			changed = true
		}
	}

	if repositories != nil {
		if list, err := repositories(ctx); err != nil {
			r.logger.Warn("roster repository refresh failed", zap.Error(err))
		} else if len(list) > 0 {
			next.Repositories = list
			changed = true
		}
	}

	if !changed {
		return
	}

	r.mu.Lock()
	r.snap = next
	r.mu.Unlock()

	r.logger.Info("roster refreshed",
		zap.Int("projects", len(next.Projects)),
		zap.Int("repositories", len(next.Repositories)),
	)
}

// Refresh runs one refresh cycle immediately.
func (r *Roster) Refresh(ctx context.Context, projects, repositories FetchFunc) {
	r.refresh(ctx, projects, repositories)
}

// PromptContext renders the snapshot for embedding into the parser prompt.
func (s Snapshot) PromptContext() string {
	var sb strings.Builder

	sb.WriteString("Team members (name / tracker handle / source host handle):\n")
	if len(s.Members) == 0 {
		sb.WriteString("  (none configured)\n")
	}
	for _, m := range s.Members {
		fmt.Fprintf(&sb, "  - %s / %s / %s\n", m.Name, m.Jira, m.GitHub)
	}

	sb.WriteString("Tracker projects: ")
	sb.WriteString(joinOrNone(s.Projects))
	sb.WriteString("\nRepositories: ")
	sb.WriteString(joinOrNone(s.Repositories))
	sb.WriteString("\n")

	return sb.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none configured)"
	}
	return strings.Join(items, ", ")
}
