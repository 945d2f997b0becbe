// Package analytics computes the dashboard counters for admins, clients and agents.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/cache"
	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
)

const chartDays = 7

type LogSource interface {
	Latest(ctx context.Context, limit int) ([]models.SystemLog, error)
}

type Service struct {
	db    *gorm.DB
	logs  LogSource
	cache cache.Store
	ttl   time.Duration
	log   *logging.Logger
	now   func() time.Time
}

// NewService builds the service. store may be nil, which disables caching.
func NewService(db *gorm.DB, logs LogSource, store cache.Store, ttl time.Duration, log *logging.Logger) *Service {
	return &Service{db: db, logs: logs, cache: store, ttl: ttl, log: log.Sub("analytics"), now: time.Now}
}

type ChartPoint struct {
	Name     string `json:"name"`
	Messages int64  `json:"messages"`
}

type Overview struct {
	TotalMessages int64        `json:"totalMessages"`
	ActiveClients int64        `json:"activeClients"`
	TotalErrors   int64        `json:"totalErrors"`
	ChartData     []ChartPoint `json:"chartData"`
}

type UserStats struct {
	TotalMessages    int64 `json:"totalMessages"`
	TotalContacts    int64 `json:"totalContacts"`
	UnreadMessages   int64 `json:"unreadMessages"`
	AssignedContacts int64 `json:"assignedContacts"`
	ActiveAgents     int64 `json:"activeAgents"`
}

type AgentPerformance struct {
	AgentID  string  `json:"agentId"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Assigned int64   `json:"assigned"`
	Covered  int64   `json:"covered"`
	Rate     float64 `json:"rate"`
}

// Overview is the platform-wide summary with a message count per day for
// the last week, oldest day first.
func (s *Service) Overview(ctx context.Context, sess *auth.Session) (*Overview, error) {
	if err := sess.Require(auth.CapPlatformStats); err != nil {
		return nil, err
	}
	const key = "analytics:overview"
	var out Overview
	if s.fromCache(ctx, key, &out) {
		return &out, nil
	}

	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Message{}).Count(&out.TotalMessages).Error; err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	err := db.Model(&models.User{}).
		Where("role = ? AND status = ?", models.RoleUser, models.AccountActive).
		Count(&out.ActiveClients).Error
	if err != nil {
		return nil, fmt.Errorf("count clients: %w", err)
	}
	if err := db.Model(&models.SystemLog{}).Where("type = ?", models.LogError).Count(&out.TotalErrors).Error; err != nil {
		return nil, fmt.Errorf("count errors: %w", err)
	}

	chart, err := s.chart(ctx)
	if err != nil {
		return nil, err
	}
	out.ChartData = chart

	s.toCache(ctx, key, out)
	return &out, nil
}

// chart buckets the week's messages per UTC day in Go so the query stays
// the same on sqlite and postgres.
func (s *Service) chart(ctx context.Context) ([]ChartPoint, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(chartDays - 1))

	var stamps []time.Time
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("created_at >= ?", start).
		Pluck("created_at", &stamps).Error
	if err != nil {
		return nil, fmt.Errorf("load message times: %w", err)
	}

	points := make([]ChartPoint, chartDays)
	for i := range points {
		points[i].Name = start.AddDate(0, 0, i).Format("Mon")
	}
	for _, ts := range stamps {
		day := int(ts.UTC().Sub(start) / (24 * time.Hour))
		if day >= 0 && day < chartDays {
			points[day].Messages++
		}
	}
	return points, nil
}

func (s *Service) Logs(ctx context.Context, sess *auth.Session, limit int) ([]models.SystemLog, error) {
	if err := sess.Require(auth.CapPlatformStats); err != nil {
		return nil, err
	}
	return s.logs.Latest(ctx, limit)
}

// UserStats summarises the caller's tenant. Agents get the numbers of their
// own assignments only.
func (s *Service) UserStats(ctx context.Context, sess *auth.Session) (*UserStats, error) {
	if err := sess.Require(auth.CapOwnStats); err != nil {
		return nil, err
	}
	key := "analytics:user-stats:" + sess.TenantID
	if sess.IsAgent() {
		key += ":" + sess.UserID
	}
	var out UserStats
	if s.fromCache(ctx, key, &out) {
		return &out, nil
	}

	contacts := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.Contact{}).Where("tenant_id = ?", sess.TenantID)
		if sess.IsAgent() {
			q = q.Where("assigned_to = ?", sess.UserID)
		}
		return q
	}

	if err := contacts().Count(&out.TotalContacts).Error; err != nil {
		return nil, fmt.Errorf("count contacts: %w", err)
	}
	if err := contacts().Where("assigned_to IS NOT NULL").Count(&out.AssignedContacts).Error; err != nil {
		return nil, fmt.Errorf("count assigned contacts: %w", err)
	}
	if err := contacts().Select("COALESCE(SUM(unread_count), 0)").Scan(&out.UnreadMessages).Error; err != nil {
		return nil, fmt.Errorf("sum unread: %w", err)
	}

	msgs := s.db.WithContext(ctx).Model(&models.Message{}).Where("tenant_id = ?", sess.TenantID)
	if sess.IsAgent() {
		msgs = msgs.Where("contact_id IN (?)", contacts().Select("id"))
	}
	if err := msgs.Count(&out.TotalMessages).Error; err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("owner_id = ? AND role = ? AND status = ?", sess.TenantID, models.RoleAgent, models.AccountActive).
		Count(&out.ActiveAgents).Error
	if err != nil {
		return nil, fmt.Errorf("count agents: %w", err)
	}

	s.toCache(ctx, key, out)
	return &out, nil
}

// AgentPerformance reports per agent how many assigned contacts were
// answered on a call. rate is a percentage with one decimal.
func (s *Service) AgentPerformance(ctx context.Context, sess *auth.Session) ([]AgentPerformance, error) {
	if err := sess.Require(auth.CapAgentPerformance); err != nil {
		return nil, err
	}

	var agents []models.User
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND role = ?", sess.TenantID, models.RoleAgent).
		Order("name ASC").
		Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	type row struct {
		AssignedTo string
		Assigned   int64
		Covered    int64
	}
	var rows []row
	err = s.db.WithContext(ctx).Model(&models.Contact{}).
		Select("assigned_to, COUNT(*) AS assigned, SUM(CASE WHEN call_status = ? THEN 1 ELSE 0 END) AS covered", models.StatusAnswered).
		Where("tenant_id = ? AND assigned_to IS NOT NULL", sess.TenantID).
		Group("assigned_to").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate assignments: %w", err)
	}
	byAgent := make(map[string]row, len(rows))
	for _, r := range rows {
		byAgent[r.AssignedTo] = r
	}

	out := make([]AgentPerformance, 0, len(agents))
	for _, a := range agents {
		r := byAgent[a.ID]
		p := AgentPerformance{AgentID: a.ID, Name: a.Name, Email: a.Email, Assigned: r.Assigned, Covered: r.Covered}
		if r.Assigned > 0 {
			p.Rate = math.Round(float64(r.Covered)/float64(r.Assigned)*1000) / 10
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) fromCache(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.GetJSON(ctx, key, dst)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("reading stats cache")
		return false
	}
	return found
}

func (s *Service) toCache(ctx context.Context, key string, v any) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	if err := s.cache.SetJSON(ctx, key, v, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("writing stats cache")
	}
}
