// Package broadcast stores scheduled bulk sends and executes them in the background.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
	"smartreply-crm/pkg/validator"
)

const maxRecipients = 10000

type Sender interface {
	Send(ctx context.Context, creds models.WhatsAppConfig, to, messageType, text, mediaURL, caption string) (string, error)
	SendTemplateMessage(ctx context.Context, creds models.WhatsAppConfig, to, templateName, languageCode string) (string, error)
}

type EventRecorder interface {
	Record(ctx context.Context, level, source, message, clientID string, meta map[string]any)
}

type Service struct {
	db          *gorm.DB
	sender      Sender
	events      EventRecorder
	concurrency int
	log         *logging.Logger
	now         func() time.Time
}

func NewService(db *gorm.DB, sender Sender, events EventRecorder, concurrency int, log *logging.Logger) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		db:          db,
		sender:      sender,
		events:      events,
		concurrency: concurrency,
		log:         log.Sub("broadcast"),
		now:         time.Now,
	}
}

type CampaignInput struct {
	ClientID      string
	Name          string
	Recipients    []string
	MessageType   string
	Message       string
	MediaURL      string
	Language      string
	ScheduledTime *time.Time
}

// RunResult summarises one executed campaign.
type RunResult struct {
	CampaignID   uint
	Status       string
	SuccessCount int
	FailCount    int
}

// CreateCampaign validates and stores a campaign as pending. A missing
// schedule means as soon as the scheduler next ticks.
func (s *Service) CreateCampaign(ctx context.Context, sess *auth.Session, in CampaignInput) (*models.BroadcastCampaign, error) {
	if err := sess.Require(auth.CapBroadcast); err != nil {
		return nil, err
	}
	tenantID, err := sess.Tenant(in.ClientID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	recipients, err := normalizeRecipients(in.Recipients)
	if err != nil {
		return nil, err
	}

	msgType := strings.ToLower(strings.TrimSpace(in.MessageType))
	if msgType == "" {
		msgType = models.MessageText
	}
	message := strings.TrimSpace(in.Message)
	mediaURL := strings.TrimSpace(in.MediaURL)
	language := strings.TrimSpace(in.Language)
	switch {
	case msgType == models.MessageTemplate:
		if message == "" {
			return nil, apperr.Validation("message must name the template to send")
		}
		if language == "" {
			language = "en_US"
		}
	case msgType == models.MessageText:
		if message == "" {
			return nil, apperr.Validation("message is required for text broadcasts")
		}
	case models.IsMediaType(msgType):
		if mediaURL == "" {
			return nil, apperr.Validation("mediaUrl is required for %s broadcasts", msgType)
		}
	default:
		return nil, apperr.Validation("messageType must be one of text, image, video, audio, document, template")
	}

	scheduled := s.now().UTC()
	if in.ScheduledTime != nil && !in.ScheduledTime.IsZero() {
		scheduled = in.ScheduledTime.UTC()
	}

	c := &models.BroadcastCampaign{
		TenantID:      tenantID,
		CreatedBy:     sess.UserID,
		Name:          name,
		Recipients:    recipients,
		MessageType:   msgType,
		Message:       message,
		MediaURL:      mediaURL,
		Language:      language,
		ScheduledTime: scheduled,
		Status:        models.CampaignPending,
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

// ListCampaigns returns the tenant's campaigns newest first.
func (s *Service) ListCampaigns(ctx context.Context, sess *auth.Session, clientID string) ([]models.BroadcastCampaign, error) {
	if err := sess.Require(auth.CapBroadcast); err != nil {
		return nil, err
	}
	tenantID, err := sess.Tenant(clientID)
	if err != nil {
		return nil, err
	}
	campaigns := []models.BroadcastCampaign{}
	err = s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

// ProcessDue claims every pending campaign scheduled at or before now and
// runs it. Claiming is a conditional update, so concurrent workers never
// run the same campaign twice.
func (s *Service) ProcessDue(ctx context.Context) ([]RunResult, error) {
	var due []models.BroadcastCampaign
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", models.CampaignPending, s.now().UTC()).
		Order("scheduled_time ASC, id ASC").
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("load due campaigns: %w", err)
	}

	var results []RunResult
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		claimed, err := s.claim(ctx, due[i].ID)
		if err != nil {
			return results, err
		}
		if !claimed {
			continue
		}
		res, err := s.run(ctx, &due[i])
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) claim(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.BroadcastCampaign{}).
		Where("id = ? AND status = ?", id, models.CampaignPending).
		Updates(map[string]any{"status": models.CampaignProcessing, "claimed_at": s.now().UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("claim campaign %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReclaimStale returns campaigns left processing by a worker that died
// mid-run to pending. Their remaining recipients are sent again.
func (s *Service) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).Model(&models.BroadcastCampaign{}).
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", models.CampaignProcessing, cutoff).
		Updates(map[string]any{"status": models.CampaignPending, "claimed_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim campaigns: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type outcome uint8

const (
	notAttempted outcome = iota
	delivered
	rejected
)

// run sends the campaign to every recipient not reached yet. When ctx is
// cancelled part way, the counters so far and the unreached recipients are
// stored and the campaign goes back to pending.
func (s *Service) run(ctx context.Context, c *models.BroadcastCampaign) (RunResult, error) {
	var tenant models.User
	err := s.db.WithContext(ctx).Where("id = ?", c.TenantID).First(&tenant).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return RunResult{}, fmt.Errorf("load tenant: %w", err)
	}

	recipients := c.Recipients
	if len(c.Remaining) > 0 {
		recipients = c.Remaining
	}
	outcomes := make([]outcome, len(recipients))
	bg := context.WithoutCancel(ctx)

	if !tenant.WhatsAppConfig.Configured() {
		for i := range outcomes {
			outcomes[i] = rejected
		}
		s.events.Record(bg, models.LogError, "broadcast", "Broadcast skipped: WhatsApp is not configured", c.TenantID,
			map[string]any{"campaignId": c.ID, "name": c.Name})
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for i, to := range recipients {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				err := s.sendOne(gctx, tenant.WhatsAppConfig, c, to)
				switch {
				case err == nil:
					outcomes[i] = delivered
				case gctx.Err() != nil:
					// cut off by shutdown, left for the resumed run
				default:
					outcomes[i] = rejected
					s.log.Warn().Err(err).Uint("campaign_id", c.ID).Str("to", to).Msg("broadcast send failed")
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	res := RunResult{CampaignID: c.ID, SuccessCount: c.SuccessCount, FailCount: c.FailCount}
	var remaining []string
	for i, o := range outcomes {
		switch o {
		case delivered:
			res.SuccessCount++
		case rejected:
			res.FailCount++
		default:
			remaining = append(remaining, recipients[i])
		}
	}

	store := s.db.WithContext(bg).Model(c)
	if len(remaining) > 0 {
		res.Status = models.CampaignPending
		err = store.Select("status", "success_count", "fail_count", "remaining", "claimed_at").
			Updates(&models.BroadcastCampaign{
				Status:       res.Status,
				SuccessCount: res.SuccessCount,
				FailCount:    res.FailCount,
				Remaining:    remaining,
			}).Error
		if err != nil {
			return res, fmt.Errorf("suspend campaign %d: %w", c.ID, err)
		}
		s.log.Info().Uint("campaign_id", c.ID).Int("remaining", len(remaining)).Msg("broadcast interrupted, will resume")
		return res, nil
	}

	res.Status = models.CampaignCompleted
	if res.SuccessCount == 0 && len(c.Recipients) > 0 {
		res.Status = models.CampaignFailed
	}
	finished := s.now().UTC()
	err = store.Select("status", "success_count", "fail_count", "completed_at", "remaining", "claimed_at").
		Updates(&models.BroadcastCampaign{
			Status:       res.Status,
			SuccessCount: res.SuccessCount,
			FailCount:    res.FailCount,
			CompletedAt:  &finished,
		}).Error
	if err != nil {
		return res, fmt.Errorf("finish campaign %d: %w", c.ID, err)
	}

	level := models.LogInfo
	if res.Status == models.CampaignFailed {
		level = models.LogError
	} else if res.FailCount > 0 {
		level = models.LogWarn
	}
	s.events.Record(bg, level, "broadcast", fmt.Sprintf("Broadcast %q %s", c.Name, res.Status), c.TenantID,
		map[string]any{"campaignId": c.ID, "success": res.SuccessCount, "failed": res.FailCount})
	return res, nil
}

func (s *Service) sendOne(ctx context.Context, creds models.WhatsAppConfig, c *models.BroadcastCampaign, to string) error {
	var err error
	if c.MessageType == models.MessageTemplate {
		_, err = s.sender.SendTemplateMessage(ctx, creds, to, c.Message, c.Language)
	} else {
		_, err = s.sender.Send(ctx, creds, to, c.MessageType, c.Message, c.MediaURL, "")
	}
	return err
}

func normalizeRecipients(in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	var invalid []string
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		if !validator.IsPhone(r) {
			invalid = append(invalid, r)
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation("invalid recipients: %s", strings.Join(invalid, ", "))
	}
	if len(out) == 0 {
		return nil, apperr.Validation("recipients must not be empty")
	}
	if len(out) > maxRecipients {
		return nil, apperr.Validation("at most %d recipients per campaign", maxRecipients)
	}
	return out, nil
}
