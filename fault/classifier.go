package fault

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillsenselab/resilio/logger"
	"github.com/skillsenselab/resilio/store"
)

// Notifier shows a fault to the user. Implementations must tolerate any
// record; panics are contained by the classifier.
type Notifier interface {
	Notify(rec *Record)
}

// Reporter sends a fault to a remote collector. Errors are swallowed by
// the classifier; reporting is best effort only.
type Reporter interface {
	Report(ctx context.Context, rec *Record) error
}

// statusCoder is implemented by errors carrying a transport status code.
type statusCoder interface {
	StatusCode() int
}

// Config configures a Classifier.
type Config struct {
	// HistorySize caps the in-memory history (newest first).
	HistorySize int
	// PersistSize caps the persisted history.
	PersistSize int
	// HistoryKey is the storage key the persisted history lives under.
	HistoryKey string
	// ReportTimeout bounds each best-effort remote report.
	ReportTimeout time.Duration
	// Notifier receives user-visible notifications. Optional.
	Notifier Notifier
	// Reporter receives MEDIUM+ severity faults. Optional.
	Reporter Reporter
	// Online reports current connectivity. When it returns false and no
	// other rule matches, failures classify as OFFLINE. Optional.
	Online func() bool
	// OnRecord is invoked for every classified fault, after history and
	// notification handling. Used for metrics. Optional.
	OnRecord func(rec *Record)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize:   100,
		PersistSize:   50,
		HistoryKey:    "fault:history",
		ReportTimeout: 10 * time.Second,
	}
}

// Classifier turns raw failures into typed, severity-ranked records.
// It keeps a bounded in-memory history and mirrors a smaller slice of it
// to durable storage so fault history survives restarts.
type Classifier struct {
	cfg   Config
	log   *logger.Logger
	store store.Store

	mu      sync.Mutex
	history []*Record
}

// NewClassifier creates a classifier. st may be nil for in-memory-only
// operation.
func NewClassifier(cfg Config, st store.Store, log *logger.Logger) *Classifier {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.PersistSize <= 0 {
		cfg.PersistSize = 50
	}
	if cfg.HistoryKey == "" {
		cfg.HistoryKey = "fault:history"
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("resilio")
	}

	c := &Classifier{
		cfg:   cfg,
		log:   log.WithComponent("fault"),
		store: st,
	}
	return c
}

// Load rehydrates the persisted fault history. Call once at startup.
func (c *Classifier) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	raw, ok, err := c.store.Get(ctx, c.cfg.HistoryKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var records []*Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return err
	}

	c.mu.Lock()
	c.history = records
	c.mu.Unlock()

	c.log.Debug("fault history rehydrated", logger.Fields("count", len(records)))
	return nil
}

// Classify resolves a raw failure into a Record, records it in history,
// notifies the user for severity above LOW, and reports MEDIUM+ faults
// upstream. It never returns nil and never propagates notifier or
// reporter failures.
func (c *Classifier) Classify(err error, fctx Context) *Record {
	if fctx.Timestamp.IsZero() {
		fctx.Timestamp = time.Now()
	}

	kind := c.resolve(err)
	prof := profileFor(kind)

	rec := &Record{
		ID:          uuid.NewString(),
		Kind:        kind,
		Severity:    prof.Severity,
		Message:     messageFor(kind),
		Detail:      err.Error(),
		Recoverable: prof.Recoverable,
		Retryable:   prof.Retryable,
		Sticky:      prof.Severity >= SeverityCritical,
		Actions:     actionsFor(kind),
		Context:     fctx,
	}

	c.record(rec)

	if rec.Severity > SeverityLow {
		c.notify(rec)
	}
	if rec.Severity >= SeverityMedium {
		c.report(rec)
	}
	if c.cfg.OnRecord != nil {
		c.cfg.OnRecord(rec)
	}

	c.log.Debug("fault classified", logger.Fields(
		logger.FieldFaultKind, string(rec.Kind),
		logger.FieldSeverity, rec.Severity.String(),
		"retryable", rec.Retryable,
	))

	return rec
}

// Retryable reports whether a raw failure would classify as retryable,
// without recording it. The retry helper uses this between attempts so
// only the final failure lands in history.
func (c *Classifier) Retryable(err error) bool {
	return profileFor(c.resolve(err)).Retryable
}

// History returns a copy of the in-memory history, newest first.
func (c *Classifier) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Record, len(c.history))
	for i, r := range c.history {
		out[i] = *r
	}
	return out
}

// ClearHistory drops the in-memory and persisted history.
func (c *Classifier) ClearHistory(ctx context.Context) {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Remove(ctx, c.cfg.HistoryKey); err != nil {
			c.log.Warn("failed to clear persisted history", logger.ErrorFields("clear", err))
		}
	}
}

// resolve applies the classification rules in priority order:
// substring match, transport status code, connectivity, default.
func (c *Classifier) resolve(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if kind := matchSubstring(err.Error()); kind != KindUnknown {
		return kind
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code != 0 {
			if kind := statusKind(code); kind != KindUnknown {
				return kind
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	if c.cfg.Online != nil && !c.cfg.Online() {
		return KindOffline
	}

	return KindUnknown
}

func (c *Classifier) record(rec *Record) {
	c.mu.Lock()
	c.history = append([]*Record{rec}, c.history...)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[:c.cfg.HistorySize]
	}

	var persisted []*Record
	if c.store != nil {
		n := len(c.history)
		if n > c.cfg.PersistSize {
			n = c.cfg.PersistSize
		}
		persisted = make([]*Record, n)
		copy(persisted, c.history[:n])
	}
	c.mu.Unlock()

	if persisted != nil {
		data, err := json.Marshal(persisted)
		if err != nil {
			c.log.Warn("failed to encode fault history", logger.ErrorFields("persist", err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.Set(ctx, c.cfg.HistoryKey, data); err != nil {
			c.log.Warn("failed to persist fault history", logger.ErrorFields("persist", err))
		}
	}
}

// notify shows the record to the user. A panicking notifier must not
// take the caller down with it.
func (c *Classifier) notify(rec *Record) {
	if c.cfg.Notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("notifier panicked", logger.Fields("panic", r))
		}
	}()
	c.cfg.Notifier.Notify(rec)
}

// report sends the record upstream, swallowing every failure.
func (c *Classifier) report(rec *Record) {
	if c.cfg.Reporter == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Warn("reporter panicked", logger.Fields("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReportTimeout)
		defer cancel()
		if err := c.cfg.Reporter.Report(ctx, rec); err != nil {
			c.log.Debug("fault report failed", logger.ErrorFields("report", err))
		}
	}()
}

