// Package loggen produces synthetic log events for exercising the detector.
// Generation is deterministic when seeded.
package loggen

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"logx-detector/internal/events"
)

// Config controls the shape of generated events.
type Config struct {
	TenantID  string
	SystemIDs []string
	Seed      int64
	LevelDist string
	OpDist    string
	// FailureRate is the probability in [0,1] that a request fails with a 5xx status.
	FailureRate float64
	Users       int
}

const (
	DefaultLevelDist = "INFO:70,WARN:15,ERROR:12,FATAL:3"
	DefaultOpDist    = "/api/order/create:30,/api/order/list:30,/api/user/login:20,/api/pay/submit:20"

	slowResponseProbability = 0.05
)

// Generator creates events according to configured distributions.
type Generator struct {
	cfg       Config
	rng       *rand.Rand
	levelDist []weightedValue
	opDist    []weightedValue
	now       func() time.Time
}

type weightedValue struct {
	value  string
	weight int
}

// NewGenerator validates cfg and creates a Generator.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("tenant cannot be empty")
	}
	if len(cfg.SystemIDs) == 0 {
		return nil, fmt.Errorf("at least one system is required")
	}
	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		return nil, fmt.Errorf("failure rate must be within [0,1], got %v", cfg.FailureRate)
	}
	if cfg.Users <= 0 {
		cfg.Users = 50
	}
	if cfg.LevelDist == "" {
		cfg.LevelDist = DefaultLevelDist
	}
	if cfg.OpDist == "" {
		cfg.OpDist = DefaultOpDist
	}

	g := &Generator{cfg: cfg, now: time.Now}
	if cfg.Seed != 0 {
		g.rng = rand.New(rand.NewSource(cfg.Seed))
	} else {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var err error
	if g.levelDist, err = parseWeighted(cfg.LevelDist); err != nil {
		return nil, fmt.Errorf("invalid level distribution: %w", err)
	}
	if g.opDist, err = parseWeighted(cfg.OpDist); err != nil {
		return nil, fmt.Errorf("invalid operation distribution: %w", err)
	}
	return g, nil
}

// ParseDistribution parses "KEY:PERCENT,..." where the percentages sum to 100.
func ParseDistribution(s string) (map[string]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("distribution string cannot be empty")
	}
	result := make(map[string]int)
	total := 0
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := strings.LastIndex(part, ":")
		if i <= 0 {
			return nil, fmt.Errorf("invalid distribution format: %s (expected KEY:PERCENT)", part)
		}
		percent, err := strconv.Atoi(strings.TrimSpace(part[i+1:]))
		if err != nil {
			return nil, fmt.Errorf("invalid percentage in %s: %w", part, err)
		}
		if percent < 0 || percent > 100 {
			return nil, fmt.Errorf("percentage must be 0-100, got %d in %s", percent, part)
		}
		result[strings.TrimSpace(part[:i])] += percent
		total += percent
	}
	if total != 100 {
		return nil, fmt.Errorf("distribution percentages must sum to 100, got %d", total)
	}
	return result, nil
}

// parseWeighted sorts values so a seeded generator is reproducible.
func parseWeighted(s string) ([]weightedValue, error) {
	m, err := ParseDistribution(s)
	if err != nil {
		return nil, err
	}
	out := make([]weightedValue, 0, len(m))
	for v, w := range m {
		out = append(out, weightedValue{value: v, weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].value < out[j].value })
	return out, nil
}

// Generate creates one request log event.
func (g *Generator) Generate() *events.Event {
	op := g.selectWeighted(g.opDist)
	level := g.selectWeighted(g.levelDist)

	status := 200
	if g.rng.Float64() < g.cfg.FailureRate {
		status = 500 + g.rng.Intn(4)
		if level != "FATAL" {
			level = "ERROR"
		}
	}
	rt := int64(20 + g.rng.Intn(200))
	if g.rng.Float64() < slowResponseProbability {
		rt = int64(2000 + g.rng.Intn(8000))
	}

	ev := &events.Event{
		TenantID:     g.cfg.TenantID,
		SystemID:     g.cfg.SystemIDs[g.rng.Intn(len(g.cfg.SystemIDs))],
		Timestamp:    g.now().UTC(),
		Level:        level,
		Module:       moduleOf(op),
		Operation:    op,
		ResponseTime: &rt,
		UserID:       "user-" + strconv.Itoa(1+g.rng.Intn(g.cfg.Users)),
		IP:           fmt.Sprintf("10.0.%d.%d", g.rng.Intn(4), 1+g.rng.Intn(254)),
		RequestURL:   op,
		StatusCode:   &status,
		Fields:       map[string]any{"traceId": uuid.NewString()},
	}
	if status >= 500 {
		ev.Exception = "java.lang.IllegalStateException: upstream unavailable"
	}
	return ev
}

// GenerateFailure creates a failing event for op, for driving continuous-request rules.
func (g *Generator) GenerateFailure(op string) *events.Event {
	ev := g.Generate()
	status := 503
	ev.Level = "ERROR"
	ev.Operation = op
	ev.RequestURL = op
	ev.Module = moduleOf(op)
	ev.StatusCode = &status
	ev.Exception = "java.net.SocketTimeoutException: Read timed out"
	return ev
}

// moduleOf returns the second path segment, e.g. "order" for /api/order/create.
func moduleOf(op string) string {
	parts := strings.Split(strings.Trim(op, "/"), "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return parts[0]
}

func (g *Generator) selectWeighted(choices []weightedValue) string {
	total := 0
	for _, c := range choices {
		total += c.weight
	}
	if total == 0 {
		return "unknown"
	}
	r := g.rng.Intn(total)
	cumulative := 0
	for _, c := range choices {
		cumulative += c.weight
		if r < cumulative {
			return c.value
		}
	}
	return choices[len(choices)-1].value
}
