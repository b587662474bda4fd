package consent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store errors.
var (
	// ErrNotFound is returned when a pattern key has no row.
	ErrNotFound = errors.New("not found")
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// DefaultMinScore is the load-time inclusion threshold: patterns at or below
// it are not hydrated into the domain cache.
const DefaultMinScore = 0.3

// DefaultMaxPatternsPerDomain caps learned patterns per domain. The source
// system grew its table without bound; on insert past the cap the
// lowest-score pattern (oldest on ties) is evicted.
const DefaultMaxPatternsPerDomain = 64

// StoreConfig configures the pattern store.
type StoreConfig struct {
	// Path is the SQLite database file; ":memory:" for tests.
	Path string `yaml:"path" json:"path"`
	// MaxPatternsPerDomain caps learned patterns per domain (0 = default).
	MaxPatternsPerDomain int `yaml:"max_patterns_per_domain" json:"max_patterns_per_domain"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Path:                 "consentflow.db",
		MaxPatternsPerDomain: DefaultMaxPatternsPerDomain,
	}
}

// PatternStore is the durable table of learned patterns and domain
// behaviors. Writes commit synchronously before returning and are serialized
// through a mutex: the store assumes single-writer discipline per process.
type PatternStore struct {
	db           *gorm.DB
	logger       *zap.Logger
	maxPerDomain int
	mu           sync.Mutex
	closed       bool
}

// OpenStore opens (or creates) the SQLite store at cfg.Path and initializes
// the schema.
func OpenStore(cfg StoreConfig, logger *zap.Logger) (*PatternStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", cfg.Path, err)
	}
	return NewPatternStore(db, cfg, logger)
}

// NewPatternStore wraps an existing gorm DB and initializes the schema.
func NewPatternStore(db *gorm.DB, cfg StoreConfig, logger *zap.Logger) (*PatternStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxPerDomain := cfg.MaxPatternsPerDomain
	if maxPerDomain <= 0 {
		maxPerDomain = DefaultMaxPatternsPerDomain
	}
	s := &PatternStore{
		db:           db,
		logger:       logger.With(zap.String("component", "pattern_store")),
		maxPerDomain: maxPerDomain,
	}
	if err := s.InitializeSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// InitializeSchema creates the pattern and behavior tables. Idempotent.
func (s *PatternStore) InitializeSchema() error {
	if err := s.db.AutoMigrate(&Pattern{}, &DomainBehavior{}); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	s.logger.Info("pattern store schema initialized")
	return nil
}

// LoadPatterns returns every pattern with EffectivenessScore > minScore,
// partitioned by domain and ordered by score descending within each domain.
func (s *PatternStore) LoadPatterns(minScore float64) (map[string][]Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var rows []Pattern
	err := s.db.
		Where("effectiveness_score > ?", minScore).
		Order("effectiveness_score DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}

	byDomain := make(map[string][]Pattern)
	for _, p := range rows {
		byDomain[p.Domain] = append(byDomain[p.Domain], p)
	}

	s.logger.Info("patterns loaded",
		zap.Int("patterns", len(rows)),
		zap.Int("domains", len(byDomain)),
		zap.Float64("min_score", minScore))
	return byDomain, nil
}

// UpsertOutcome records one attempt outcome for a key. An existing row gets
// its counter incremented and its score recomputed as the exact success
// ratio; a previously-unseen key is inserted with the creation priors. The
// updated pattern is returned so callers can mirror it into the cache even
// when the write itself failed.
func (s *PatternStore) UpsertOutcome(domain, selector string, action ActionType, success bool) (Pattern, error) {
	return s.upsert(domain, selector, action, success, "automatic_learning")
}

func (s *PatternStore) upsert(domain, selector string, action ActionType, success bool, method string) (Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Pattern{}, ErrStoreClosed
	}

	now := time.Now().UTC()

	var p Pattern
	err := s.db.
		Where("domain = ? AND selector = ? AND action = ?", domain, selector, action.String()).
		First(&p).Error
	switch {
	case err == nil:
		p.applyOutcome(success, now)
		if err := s.db.Save(&p).Error; err != nil {
			return p, fmt.Errorf("update pattern: %w", err)
		}
		return p, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		p = newPattern(domain, selector, action, success, method, now)
		if err := s.db.Create(&p).Error; err != nil {
			return p, fmt.Errorf("insert pattern: %w", err)
		}
		if evicted, err := s.enforceCap(domain); err != nil {
			s.logger.Warn("retention cap enforcement failed",
				zap.String("domain", domain), zap.Error(err))
		} else if evicted > 0 {
			s.logger.Debug("evicted low-score patterns",
				zap.String("domain", domain), zap.Int("evicted", evicted))
		}
		s.logger.Info("learned new pattern",
			zap.String("domain", domain),
			zap.String("selector", selector),
			zap.String("action", action.String()),
			zap.Float64("score", p.EffectivenessScore))
		return p, nil

	default:
		// Read failed; synthesize the outcome so the caller can still keep
		// its in-memory state moving (best-effort durability).
		p = newPattern(domain, selector, action, success, method, now)
		return p, fmt.Errorf("lookup pattern: %w", err)
	}
}

// enforceCap deletes the lowest-score patterns for a domain until it is back
// under the per-domain cap. Ties evict the least recently used first.
func (s *PatternStore) enforceCap(domain string) (int, error) {
	var count int64
	if err := s.db.Model(&Pattern{}).Where("domain = ?", domain).Count(&count).Error; err != nil {
		return 0, err
	}
	excess := int(count) - s.maxPerDomain
	if excess <= 0 {
		return 0, nil
	}

	var victims []Pattern
	err := s.db.
		Where("domain = ?", domain).
		Order("effectiveness_score ASC, last_used ASC").
		Limit(excess).
		Find(&victims).Error
	if err != nil {
		return 0, err
	}
	for _, v := range victims {
		if err := s.db.Delete(&Pattern{}, v.ID).Error; err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

// MaxPatternsPerDomain returns the configured per-domain retention cap.
func (s *PatternStore) MaxPatternsPerDomain() int {
	return s.maxPerDomain
}

// GetPattern returns the stored pattern for a key, or ErrNotFound.
func (s *PatternStore) GetPattern(domain, selector string, action ActionType) (Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Pattern{}, ErrStoreClosed
	}

	var p Pattern
	err := s.db.
		Where("domain = ? AND selector = ? AND action = ?", domain, selector, action.String()).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pattern{}, ErrNotFound
	}
	if err != nil {
		return Pattern{}, fmt.Errorf("get pattern: %w", err)
	}
	return p, nil
}

// LoadBehaviors returns descriptive domain behaviors with SuccessRate above
// minRate, grouped by domain.
func (s *PatternStore) LoadBehaviors(minRate float64) (map[string][]DomainBehavior, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var rows []DomainBehavior
	err := s.db.
		Where("success_rate > ?", minRate).
		Order("success_rate DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load behaviors: %w", err)
	}

	byDomain := make(map[string][]DomainBehavior)
	for _, b := range rows {
		byDomain[b.Domain] = append(byDomain[b.Domain], b)
	}
	return byDomain, nil
}

// RecordBehavior inserts or refreshes a descriptive (domain, behaviorType)
// observation.
func (s *PatternStore) RecordBehavior(domain, behaviorType, description string, successRate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now().UTC()
	var b DomainBehavior
	err := s.db.
		Where("domain = ? AND behavior_type = ?", domain, behaviorType).
		First(&b).Error
	switch {
	case err == nil:
		b.Description = description
		b.SuccessRate = successRate
		b.LastSeen = now
		b.UsageCount++
		if err := s.db.Save(&b).Error; err != nil {
			return fmt.Errorf("update behavior: %w", err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		b = DomainBehavior{
			Domain:       domain,
			BehaviorType: behaviorType,
			Description:  description,
			SuccessRate:  successRate,
			LastSeen:     now,
			UsageCount:   1,
		}
		if err := s.db.Create(&b).Error; err != nil {
			return fmt.Errorf("insert behavior: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("lookup behavior: %w", err)
	}
}

// PatternCount returns the total number of stored patterns.
func (s *PatternStore) PatternCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	var count int64
	if err := s.db.Model(&Pattern{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return count, nil
}

// Close marks the store closed and closes the underlying connection.
func (s *PatternStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// sortPatterns orders patterns by score descending with a deterministic
// tie-break so identical store contents always rank identically.
func sortPatterns(patterns []Pattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].EffectivenessScore != patterns[j].EffectivenessScore {
			return patterns[i].EffectivenessScore > patterns[j].EffectivenessScore
		}
		if patterns[i].Selector != patterns[j].Selector {
			return patterns[i].Selector < patterns[j].Selector
		}
		return patterns[i].Action < patterns[j].Action
	})
}
