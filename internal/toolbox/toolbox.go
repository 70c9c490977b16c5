// Package toolbox is the default task executor: it picks a read-only AWS
// inventory tool by matching keywords in the task description and runs it
// with the task's credentials.
package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsx "github.com/eichemberger/aws-sidekick/internal/aws"
	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/rs/zerolog"
)

// ToolMeta describes a tool.
type ToolMeta struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Service     string   `json:"service"`
	Keywords    []string `json:"keywords"`
}

// Tool is one read-only operation against an account.
type Tool interface {
	Meta() ToolMeta
	Run(ctx context.Context, cfg aws.Config) (any, error)
}

// Registry holds the available tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools []Tool
	index map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Meta().Name
	if i, ok := r.index[name]; ok {
		r.tools[i] = t
		return
	}
	r.index[name] = len(r.tools)
	r.tools = append(r.tools, t)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.tools[i], true
}

// List returns all tool metadata sorted by name.
func (r *Registry) List() []ToolMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metas := make([]ToolMeta, 0, len(r.tools))
	for _, t := range r.tools {
		metas = append(metas, t.Meta())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas
}

// Match returns the tool whose keywords best cover description. A tool's
// name also matches exactly. Ties go to the earlier registration.
func (r *Registry) Match(description string) (Tool, bool) {
	words := tokenize(description)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Tool
	bestScore := 0
	for _, t := range r.tools {
		meta := t.Meta()
		if words[strings.ToLower(meta.Name)] {
			return t, true
		}
		score := 0
		for _, kw := range meta.Keywords {
			if words[kw] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, best != nil
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[f] = true
	}
	return words
}

// Executor runs the best-matching tool for a task description.
type Executor struct {
	registry *Registry
	clients  *awsx.ClientFactory
	logger   zerolog.Logger
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry, clients *awsx.ClientFactory, logger zerolog.Logger) *Executor {
	return &Executor{
		registry: registry,
		clients:  clients,
		logger:   logger.With().Str("subsystem", "toolbox").Logger(),
	}
}

// Output is the JSON document a task produces.
type Output struct {
	Tool   string `json:"tool"`
	Region string `json:"region"`
	Count  *int   `json:"count,omitempty"`
	Data   any    `json:"data"`
}

// Execute implements task.Executor.
func (e *Executor) Execute(ctx context.Context, description string, bundle core.CredentialBundle) (string, error) {
	tool, ok := e.registry.Match(description)
	if !ok {
		var names []string
		for _, m := range e.registry.List() {
			names = append(names, m.Name)
		}
		return "", fmt.Errorf("no tool matches %q; available tools: %s", description, strings.Join(names, ", "))
	}
	meta := tool.Meta()

	cfg, err := e.clients.ConfigFor(ctx, bundle)
	if err != nil {
		return "", err
	}

	e.logger.Debug().Str("tool", meta.Name).Str("region", cfg.Region).Msg("running tool")
	data, err := tool.Run(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("%s: %s", meta.Name, awsx.DescribeError(err))
	}

	out := Output{Tool: meta.Name, Region: cfg.Region, Data: data}
	if n, ok := count(data); ok {
		out.Count = &n
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding %s result: %w", meta.Name, err)
	}
	return string(raw), nil
}

func count(data any) (int, bool) {
	switch v := data.(type) {
	case []string:
		return len(v), true
	case []awsx.IAMUserSummary:
		return len(v), true
	case []awsx.IAMRoleSummary:
		return len(v), true
	case []awsx.S3BucketSummary:
		return len(v), true
	case []awsx.EC2InstanceSummary:
		return len(v), true
	case []awsx.LambdaSummary:
		return len(v), true
	case []awsx.KMSKeySummary:
		return len(v), true
	case []awsx.SecretSummary:
		return len(v), true
	case []awsx.SSMParameterSummary:
		return len(v), true
	case []awsx.TrailSummary:
		return len(v), true
	case []awsx.LogGroupSummary:
		return len(v), true
	}
	return 0, false
}
