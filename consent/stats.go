package consent

import (
	"fmt"
)

// Stats is the aggregate view over stored patterns, per-domain or global.
// Read-only: operators and monitoring consume it, the cascade never does.
type Stats struct {
	Domain           string  `json:"domain,omitempty"`
	DomainsLearned   int64   `json:"domains_learned,omitempty"`
	PatternCount     int64   `json:"pattern_count"`
	AvgEffectiveness float64 `json:"avg_effectiveness"`
	Successes        int64   `json:"successes"`
	Failures         int64   `json:"failures"`
	Attempts         int64   `json:"attempts"`
	SuccessRate      float64 `json:"success_rate"`
}

// statsRow receives the SQL aggregates. COALESCE keeps empty tables at zero
// instead of NULL.
type statsRow struct {
	PatternCount     int64
	DomainsLearned   int64
	AvgEffectiveness float64
	Successes        int64
	Failures         int64
}

// DomainStats aggregates the learned patterns for one domain. A domain with
// no attempts reports SuccessRate 0.0, never a division fault.
func (s *PatternStore) DomainStats(domain string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Stats{}, ErrStoreClosed
	}

	var row statsRow
	err := s.db.Model(&Pattern{}).
		Select(`COUNT(*) AS pattern_count,
			COALESCE(AVG(effectiveness_score), 0) AS avg_effectiveness,
			COALESCE(SUM(success_count), 0) AS successes,
			COALESCE(SUM(failure_count), 0) AS failures`).
		Where("domain = ?", domain).
		Scan(&row).Error
	if err != nil {
		return Stats{}, fmt.Errorf("domain stats: %w", err)
	}

	st := Stats{
		Domain:           domain,
		PatternCount:     row.PatternCount,
		AvgEffectiveness: row.AvgEffectiveness,
		Successes:        row.Successes,
		Failures:         row.Failures,
		Attempts:         row.Successes + row.Failures,
	}
	if st.Attempts > 0 {
		st.SuccessRate = float64(st.Successes) / float64(st.Attempts)
	}
	return st, nil
}

// GlobalStats aggregates across all domains.
func (s *PatternStore) GlobalStats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Stats{}, ErrStoreClosed
	}

	var row statsRow
	err := s.db.Model(&Pattern{}).
		Select(`COUNT(*) AS pattern_count,
			COUNT(DISTINCT domain) AS domains_learned,
			COALESCE(AVG(effectiveness_score), 0) AS avg_effectiveness,
			COALESCE(SUM(success_count), 0) AS successes,
			COALESCE(SUM(failure_count), 0) AS failures`).
		Scan(&row).Error
	if err != nil {
		return Stats{}, fmt.Errorf("global stats: %w", err)
	}

	st := Stats{
		DomainsLearned:   row.DomainsLearned,
		PatternCount:     row.PatternCount,
		AvgEffectiveness: row.AvgEffectiveness,
		Successes:        row.Successes,
		Failures:         row.Failures,
		Attempts:         row.Successes + row.Failures,
	}
	if st.Attempts > 0 {
		st.SuccessRate = float64(st.Successes) / float64(st.Attempts)
	}
	return st, nil
}
