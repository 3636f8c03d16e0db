package budget

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted is returned by callers that refuse work once the daily
// token budget is spent and hard stop is enabled.
var ErrExhausted = errors.New("daily token budget exhausted")

const historyCap = 500

// Config bounds daily language-model spend.
type Config struct {
	DailyLimitTokens     int
	PerRequestMaxTokens  int
	CuriosityDailyOps    int
	CuriosityPerOpTokens int
	WarningThreshold     float64
	HardStop             bool
	ResetHour            int
	StatePath            string
}

// Entry records one consumption event. History is in-memory only and
// capped; the persisted state carries counters, not entries.
type Entry struct {
	Time     time.Time         `json:"time"`
	Tokens   int               `json:"tokens"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Status is a point-in-time snapshot of the ledger.
type Status struct {
	TokensUsed            int     `json:"tokens_used"`
	TokensRemaining       int     `json:"tokens_remaining"`
	DailyLimit            int     `json:"daily_limit"`
	UsageRatio            float64 `json:"usage_ratio"`
	Warning               bool    `json:"is_warning"`
	Exhausted             bool    `json:"is_exhausted"`
	RequestCount          int     `json:"request_count"`
	CuriosityOpsUsed      int     `json:"curiosity_ops_used"`
	CuriosityOpsRemaining int     `json:"curiosity_ops_remaining"`
}

// persisted on-disk layout.
type state struct {
	TokensUsed       int       `json:"tokens_used"`
	CuriosityOpsUsed int       `json:"curiosity_ops_used"`
	RequestCount     int       `json:"request_count"`
	LastReset        time.Time `json:"last_reset"`
}

// Ledger tracks and enforces the daily token budget across all
// language-model calls. One mutex guards every entry point so an
// admission check and the consume that follows never race.
type Ledger struct {
	cfg    Config
	logger *zap.Logger

	mu               sync.Mutex
	tokensUsed       int
	curiosityOpsUsed int
	requestCount     int
	lastReset        time.Time
	history          []Entry

	now func() time.Time
}

// NewLedger loads persisted state from cfg.StatePath. A missing file
// starts fresh; a corrupt file is discarded with a warning.
func NewLedger(cfg Config, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	l.lastReset = l.now()
	if err := l.loadState(); err != nil {
		return nil, err
	}
	logger.Info("budget ledger ready",
		zap.Int("daily_limit", cfg.DailyLimitTokens),
		zap.Int("tokens_used", l.tokensUsed),
		zap.Bool("hard_stop", cfg.HardStop))
	return l, nil
}

func (l *Ledger) loadState() error {
	data, err := os.ReadFile(l.cfg.StatePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read budget state: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil || st.LastReset.IsZero() {
		l.logger.Warn("budget state corrupt, starting fresh",
			zap.String("path", l.cfg.StatePath), zap.Error(err))
		return nil
	}

	if l.shouldReset(st.LastReset) {
		l.reset()
		return nil
	}
	l.tokensUsed = st.TokensUsed
	l.curiosityOpsUsed = st.CuriosityOpsUsed
	l.requestCount = st.RequestCount
	l.lastReset = st.LastReset
	return nil
}

// saveState writes to a temp file then renames, so a crash mid-write
// never leaves a corrupt state file. Caller holds the lock.
func (l *Ledger) saveState() {
	st := state{
		TokensUsed:       l.tokensUsed,
		CuriosityOpsUsed: l.curiosityOpsUsed,
		RequestCount:     l.requestCount,
		LastReset:        l.lastReset,
	}
	data, err := json.Marshal(st)
	if err != nil {
		l.logger.Warn("marshal budget state", zap.Error(err))
		return
	}

	dir := filepath.Dir(l.cfg.StatePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.logger.Warn("create budget state dir", zap.Error(err))
		return
	}
	tmp, err := os.CreateTemp(dir, "budget_state-*.tmp")
	if err != nil {
		l.logger.Warn("create budget state temp file", zap.Error(err))
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		l.logger.Warn("write budget state", zap.Error(err))
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		l.logger.Warn("close budget state temp file", zap.Error(err))
		return
	}
	if err := os.Rename(tmp.Name(), l.cfg.StatePath); err != nil {
		os.Remove(tmp.Name())
		l.logger.Warn("replace budget state", zap.Error(err))
	}
}

// shouldReset reports whether the counters belong to a previous reset
// cycle. The boundary is today's reset hour; before that hour the
// boundary is yesterday's.
func (l *Ledger) shouldReset(since time.Time) bool {
	now := l.now()
	resetToday := time.Date(now.Year(), now.Month(), now.Day(), l.cfg.ResetHour, 0, 0, 0, now.Location())
	if !now.Before(resetToday) && since.Before(resetToday) {
		return true
	}
	if now.Before(resetToday) && since.Before(resetToday.AddDate(0, 0, -1)) {
		return true
	}
	return false
}

// reset zeroes all counters. Caller holds the lock.
func (l *Ledger) reset() {
	l.tokensUsed = 0
	l.curiosityOpsUsed = 0
	l.requestCount = 0
	l.lastReset = l.now()
	l.history = nil
}

// maybeReset applies the daily boundary at most once per cycle.
// Caller holds the lock.
func (l *Ledger) maybeReset() {
	if l.shouldReset(l.lastReset) {
		l.logger.Info("daily budget reset",
			zap.Int("tokens_used", l.tokensUsed),
			zap.Int("requests", l.requestCount))
		l.reset()
		l.saveState()
	}
}

// RequestTokens admission-checks an estimated spend without mutating
// counters. Soft-stop configurations always grant.
func (l *Ledger) RequestTokens(estimate int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeReset()
	if l.cfg.HardStop && l.tokensUsed+estimate > l.cfg.DailyLimitTokens {
		return false
	}
	return true
}

// Consume records actual token usage after a language-model call.
// It always succeeds; enforcement happens at admission time.
func (l *Ledger) Consume(tokens int, source string, metadata map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeReset()
	l.tokensUsed += tokens
	l.requestCount++
	l.history = append(l.history, Entry{
		Time:     l.now(),
		Tokens:   tokens,
		Source:   source,
		Metadata: metadata,
	})
	if len(l.history) > historyCap {
		l.history = l.history[len(l.history)-historyCap:]
	}
	l.saveState()
}

// RequestCuriosityOp admission-checks one background exploration
// against the separate curiosity quota. A grant is consumed.
func (l *Ledger) RequestCuriosityOp(estimate int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeReset()
	if l.curiosityOpsUsed >= l.cfg.CuriosityDailyOps {
		return false
	}
	if estimate > l.cfg.CuriosityPerOpTokens {
		return false
	}
	if l.cfg.HardStop && l.tokensUsed+estimate > l.cfg.DailyLimitTokens {
		return false
	}
	l.curiosityOpsUsed++
	l.saveState()
	return true
}

// IsExhausted is true only under hard stop with the limit reached.
func (l *Ledger) IsExhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeReset()
	return l.cfg.HardStop && l.tokensUsed >= l.cfg.DailyLimitTokens
}

// PerRequestMax returns the per-call output token cap.
func (l *Ledger) PerRequestMax() int {
	return l.cfg.PerRequestMaxTokens
}

// TokensRemaining never goes negative.
func (l *Ledger) TokensRemaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return remaining(l.cfg.DailyLimitTokens, l.tokensUsed)
}

// CuriosityOpsRemaining reports the unused curiosity quota.
func (l *Ledger) CuriosityOpsRemaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return remaining(l.cfg.CuriosityDailyOps, l.curiosityOpsUsed)
}

// Status snapshots the ledger for display and logging.
func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeReset()

	ratio := 1.0
	if l.cfg.DailyLimitTokens > 0 {
		ratio = float64(l.tokensUsed) / float64(l.cfg.DailyLimitTokens)
	}
	return Status{
		TokensUsed:            l.tokensUsed,
		TokensRemaining:       remaining(l.cfg.DailyLimitTokens, l.tokensUsed),
		DailyLimit:            l.cfg.DailyLimitTokens,
		UsageRatio:            ratio,
		Warning:               ratio >= l.cfg.WarningThreshold,
		Exhausted:             l.cfg.HardStop && l.tokensUsed >= l.cfg.DailyLimitTokens,
		RequestCount:          l.requestCount,
		CuriosityOpsUsed:      l.curiosityOpsUsed,
		CuriosityOpsRemaining: remaining(l.cfg.CuriosityDailyOps, l.curiosityOpsUsed),
	}
}

// History returns up to n most recent consumption entries, newest last.
func (l *Ledger) History(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.history) {
		n = len(l.history)
	}
	out := make([]Entry, n)
	copy(out, l.history[len(l.history)-n:])
	return out
}

func remaining(limit, used int) int {
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}
