package conference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/agent"
)

const (
	defaultTimeout = 25 * time.Second
	defaultRounds  = 3
	contextClip    = 500
	summaryClip    = 300
)

// Contribution is one agent's statement in one round.
type Contribution struct {
	Agent      string  `json:"agent"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// Round is one round of discussion.
type Round struct {
	Number           int            `json:"number"`
	Contributions    []Contribution `json:"contributions"`
	ConsensusReached bool           `json:"consensus_reached"`
}

// Result is the outcome of a conference.
type Result struct {
	Topic        string   `json:"topic"`
	Team         string   `json:"team"`
	Rounds       []Round  `json:"rounds"`
	Summary      string   `json:"summary"`
	Participants []string `json:"participants"`
}

// Config tunes a conference engine. Zero values take the production
// defaults.
type Config struct {
	Timeout   time.Duration // per-participant deadline
	MaxRounds int           // rounds when the caller does not say
	Quorum    float64       // agreement share that closes a discussion
}

// Engine runs round-based discussions between specialists. Each round
// every participant sees the same shared context and answers
// concurrently under a per-participant deadline.
type Engine struct {
	pool    *agent.Pool
	mem     agent.MemorySearcher
	runner  agent.CommandRunner
	timeout time.Duration
	rounds  int
	quorum  float64
	logger  *zap.Logger
}

// NewEngine builds a conference engine. mem and runner are optional
// capabilities handed through to participants.
func NewEngine(pool *agent.Pool, mem agent.MemorySearcher, runner agent.CommandRunner, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultRounds
	}
	if cfg.Quorum <= 0 || cfg.Quorum > 1 {
		cfg.Quorum = defaultQuorum
	}
	return &Engine{
		pool:    pool,
		mem:     mem,
		runner:  runner,
		timeout: cfg.Timeout,
		rounds:  cfg.MaxRounds,
		quorum:  cfg.Quorum,
		logger:  logger,
	}
}

type member struct {
	name string
	ag   agent.Agent
}

// Run executes a conference on the topic. An unknown team key falls
// back to the default team; a topic no registered agent can join
// yields an empty result with an explanatory summary.
func (e *Engine) Run(ctx context.Context, topic, teamKey string, maxRounds int) *Result {
	if maxRounds <= 0 {
		maxRounds = e.rounds
	}
	team, ok := Teams[teamKey]
	if !ok {
		team = Teams[DefaultTeam]
	}

	var members []member
	for _, name := range team.Agents {
		if ag, found := e.pool.Get(name); found {
			members = append(members, member{name: name, ag: ag})
		}
	}
	if len(members) == 0 {
		return &Result{
			Topic:   topic,
			Team:    team.Name,
			Summary: "No agents are available to join the discussion.",
		}
	}

	participants := make([]string, len(members))
	for i, m := range members {
		participants[i] = m.name
	}

	e.logger.Info("conference started",
		zap.String("team", team.Key),
		zap.Strings("participants", participants),
		zap.Int("max_rounds", maxRounds))

	shared := fmt.Sprintf("Discussion topic: %s\n\n", topic)
	var rounds []Round

	for num := 1; num <= maxRounds; num++ {
		contributions := make([]Contribution, len(members))

		var wg sync.WaitGroup
		for i, m := range members {
			prompt := buildPrompt(m.name, num, maxRounds, shared)
			wg.Add(1)
			go func(i int, m member, prompt string) {
				defer wg.Done()
				contributions[i] = e.runParticipant(ctx, m, prompt)
			}(i, m, prompt)
		}
		wg.Wait()

		for _, c := range contributions {
			shared += fmt.Sprintf("\n[%s - round %d]: %s\n", c.Agent, num, clip(c.Content, contextClip))
		}

		round := Round{Number: num, Contributions: contributions}
		if num > 1 {
			round.ConsensusReached = checkConsensus(contributions, e.quorum)
		}
		rounds = append(rounds, round)

		if round.ConsensusReached {
			e.logger.Info("conference consensus reached", zap.Int("round", num))
			break
		}
	}

	return &Result{
		Topic:        topic,
		Team:         team.Name,
		Rounds:       rounds,
		Summary:      buildSummary(topic, team, rounds, participants),
		Participants: participants,
	}
}

// runParticipant executes one agent under the per-participant
// deadline. Timeouts and failures become zero-confidence placeholders
// so a stuck participant never sinks the round.
func (e *Engine) runParticipant(ctx context.Context, m member, prompt string) Contribution {
	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		resp *agent.Response
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		resp, err := m.ag.Execute(tctx, prompt, agent.RunContext{
			Facade: e.mem,
			Runner: e.runner,
		})
		ch <- outcome{resp: resp, err: err}
	}()

	select {
	case <-tctx.Done():
		e.logger.Warn("conference participant timed out", zap.String("agent", m.name))
		return Contribution{Agent: m.name, Content: "(response timed out)"}
	case out := <-ch:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				e.logger.Warn("conference participant timed out", zap.String("agent", m.name))
				return Contribution{Agent: m.name, Content: "(response timed out)"}
			}
			e.logger.Warn("conference participant failed",
				zap.String("agent", m.name), zap.Error(out.err))
			return Contribution{Agent: m.name, Content: fmt.Sprintf("(agent failed: %v)", out.err)}
		}
		return Contribution{Agent: m.name, Content: out.resp.Content, Confidence: out.resp.Confidence}
	}
}

func buildPrompt(name string, round, maxRounds int, shared string) string {
	var b strings.Builder
	b.WriteString("You are taking part in a multi-agent team discussion.\n")
	fmt.Fprintf(&b, "Your role: %s\n", name)
	fmt.Fprintf(&b, "This is round %d of %d.\n\n", round, maxRounds)
	b.WriteString(shared)
	b.WriteString("\nContribute your view from your own specialty.")
	if round > 1 {
		b.WriteString(" If you agree with the conclusions so far, say \"agree\" and extend them.")
	}
	return b.String()
}

// buildSummary renders the whole discussion as text. No model calls:
// the summary is a digest, not a synthesis.
func buildSummary(topic string, team Team, rounds []Round, participants []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s conference summary**\n", team.Name)
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(participants, ", "))
	fmt.Fprintf(&b, "Rounds: %d\n\n", len(rounds))

	for _, r := range rounds {
		fmt.Fprintf(&b, "--- Round %d ---\n", r.Number)
		for _, c := range r.Contributions {
			fmt.Fprintf(&b, "**%s**: %s\n\n", c.Agent, clip(c.Content, summaryClip))
		}
		if r.ConsensusReached {
			b.WriteString("✅ **Consensus reached**\n\n")
		}
	}

	b.WriteString("---\n**Conclusion**: The contributions above reflect each specialist's own perspective.")
	return b.String()
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
