// Package eventlog persists operator-visible system events and mirrors them
// to the process log.
package eventlog

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
)

type Recorder struct {
	db  *gorm.DB
	log *logging.Logger
}

func NewRecorder(db *gorm.DB, log *logging.Logger) *Recorder {
	return &Recorder{db: db, log: log.Sub("eventlog")}
}

// Record stores the event. Failures to store are logged, never returned:
// callers are already on an error path.
func (r *Recorder) Record(ctx context.Context, level, source, message, clientID string, meta map[string]any) {
	entry := &models.SystemLog{
		Type:     level,
		Source:   source,
		Message:  message,
		MetaData: meta,
	}
	if clientID != "" {
		entry.ClientID = &clientID
	}

	var ev *zerolog.Event
	switch level {
	case models.LogError:
		ev = r.log.Error()
	case models.LogWarn:
		ev = r.log.Warn()
	default:
		ev = r.log.Info()
	}
	ev.Str("source", source).Str("client_id", clientID).Fields(meta).Msg(message)

	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(entry).Error; err != nil {
		r.log.Error().Err(err).Str("source", source).Msg("failed to persist system log")
	}
}

func (r *Recorder) Error(ctx context.Context, source, message, clientID string, meta map[string]any) {
	r.Record(ctx, models.LogError, source, message, clientID, meta)
}

func (r *Recorder) Warn(ctx context.Context, source, message, clientID string, meta map[string]any) {
	r.Record(ctx, models.LogWarn, source, message, clientID, meta)
}

func (r *Recorder) Info(ctx context.Context, source, message, clientID string, meta map[string]any) {
	r.Record(ctx, models.LogInfo, source, message, clientID, meta)
}

// Latest returns the newest logs first with the client reference populated.
func (r *Recorder) Latest(ctx context.Context, limit int) ([]models.SystemLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var logs []models.SystemLog
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(logs))
	for _, l := range logs {
		if l.ClientID != nil {
			ids = append(ids, *l.ClientID)
		}
	}
	if len(ids) == 0 {
		return logs, nil
	}

	var users []models.User
	if err := r.db.WithContext(ctx).Select("id", "name", "business_name").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	refs := make(map[string]*models.UserRef, len(users))
	for _, u := range users {
		refs[u.ID] = &models.UserRef{ID: u.ID, Name: u.Name, BusinessName: u.BusinessName}
	}
	for i := range logs {
		if logs[i].ClientID != nil {
			logs[i].Client = refs[*logs[i].ClientID]
		}
	}
	return logs, nil
}
