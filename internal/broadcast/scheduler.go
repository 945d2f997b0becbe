package broadcast

import (
	"context"
	"sync"
	"time"

	"smartreply-crm/internal/logging"
)

// campaignProcessor is the slice of Service the scheduler needs; tests swap
// in a fake.
type campaignProcessor interface {
	ProcessDue(ctx context.Context) ([]RunResult, error)
}

type Scheduler struct {
	processor campaignProcessor
	interval  time.Duration
	log       *logging.Logger

	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	lastRunAt          time.Time
	runsCount          int64
	campaignsProcessed int64
	lastError          string
}

type SchedulerStatus struct {
	Running            bool          `json:"running"`
	LastRunAt          time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt          time.Time     `json:"nextRunAt,omitempty"`
	RunsCount          int64         `json:"runsCount"`
	CampaignsProcessed int64         `json:"campaignsProcessed"`
	Interval           time.Duration `json:"interval"`
	LastError          string        `json:"lastError,omitempty"`
}

func NewScheduler(processor campaignProcessor, interval time.Duration, log *logging.Logger) *Scheduler {
	return &Scheduler{
		processor: processor,
		interval:  interval,
		log:       log.Sub("broadcast-scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("scheduler is already running")
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.interval).Msg("starting broadcast scheduler")
	go s.run(ctx, s.stopChan, s.doneChan)
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.runsCount++
	run := s.runsCount
	s.mu.Unlock()

	results, err := s.processor.ProcessDue(ctx)

	s.mu.Lock()
	s.campaignsProcessed += int64(len(results))
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Int64("run", run).Msg("processing due campaigns")
		return
	}
	for _, r := range results {
		s.log.Info().
			Int64("run", run).
			Uint("campaign_id", r.CampaignID).
			Str("status", r.Status).
			Int("success", r.SuccessCount).
			Int("failed", r.FailCount).
			Msg("campaign finished")
	}
}

// Stop signals the worker and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stopChan, s.doneChan
	s.mu.Unlock()

	close(stop)
	<-done
	s.log.Info().Msg("broadcast scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SchedulerStatus{
		Running:            s.running,
		LastRunAt:          s.lastRunAt,
		RunsCount:          s.runsCount,
		CampaignsProcessed: s.campaignsProcessed,
		Interval:           s.interval,
		LastError:          s.lastError,
	}
	if s.running && !s.lastRunAt.IsZero() {
		st.NextRunAt = s.lastRunAt.Add(s.interval)
	}
	return st
}
