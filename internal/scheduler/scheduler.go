// Package scheduler corre los jobs de fondo del gateway sobre cron, con tope
// de concurrencia por job, captura de pánicos y apagado con drenaje.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Job es una tarea periódica registrable.
type Job struct {
	Name string
	// Spec es una expresión cron de cinco campos en la zona del scheduler.
	Spec string
	// MaxConcurrent acota corridas superpuestas; el exceso se salta, no se
	// encola.
	MaxConcurrent int64
	Run           func(ctx context.Context) error
}

// JobStatus es la vista de introspección de un job para el camino admin.
type JobStatus struct {
	Name        string     `json:"name"`
	Spec        string     `json:"spec"`
	Running     bool       `json:"running"`
	Runs        int64      `json:"runs"`
	Failures    int64      `json:"failures"`
	Skips       int64      `json:"skips"`
	LastStart   *time.Time `json:"last_start,omitempty"`
	LastFinish  *time.Time `json:"last_finish,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastElapsed string     `json:"last_elapsed,omitempty"`
}

type jobState struct {
	job Job
	sem *semaphore.Weighted

	mu          sync.Mutex
	running     int
	runs        int64
	failures    int64
	skips       int64
	lastStart   time.Time
	lastFinish  time.Time
	lastErr     string
	lastElapsed time.Duration
}

// Scheduler envuelve cron con estado por job y apagado ordenado.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	mu      sync.Mutex
	jobs    []*jobState
	baseCtx context.Context
	cancel  context.CancelFunc
	drain   time.Duration
}

// New construye el scheduler en la zona horaria dada; drain es cuánto se
// espera a los jobs en vuelo durante el apagado.
func New(loc *time.Location, drain time.Duration, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if drain <= 0 {
		drain = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		drain:   drain,
	}
}

// Register agrega un job; debe llamarse antes de Start.
func (s *Scheduler) Register(job Job) error {
	if job.MaxConcurrent <= 0 {
		job.MaxConcurrent = 1
	}
	state := &jobState{job: job, sem: semaphore.NewWeighted(job.MaxConcurrent)}

	_, err := s.cron.AddFunc(job.Spec, func() { s.runJob(state) })
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, state)
	s.mu.Unlock()
	return nil
}

// Start arranca el reloj. Los jobs corren en goroutines de cron.
func (s *Scheduler) Start() {
	s.cron.Start()
	if s.logger != nil {
		s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	}
}

// Stop detiene el reloj y espera el drenaje de los jobs en vuelo hasta el
// límite configurado; después cancela su contexto.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(s.drain):
		if s.logger != nil {
			s.logger.Warn("scheduler drain timed out, cancelling jobs", zap.Duration("drain", s.drain))
		}
	}
	s.cancel()
}

// RunNow dispara un job por nombre fuera de su horario (camino admin).
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range s.jobs {
		if state.job.Name == name {
			go s.runJob(state)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// Status devuelve el estado de todos los jobs registrados.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, state := range s.jobs {
		state.mu.Lock()
		st := JobStatus{
			Name:     state.job.Name,
			Spec:     state.job.Spec,
			Running:  state.running > 0,
			Runs:     state.runs,
			Failures: state.failures,
			Skips:    state.skips,
		}
		st.LastError = state.lastErr
		if !state.lastStart.IsZero() {
			t := state.lastStart
			st.LastStart = &t
		}
		if !state.lastFinish.IsZero() {
			t := state.lastFinish
			st.LastFinish = &t
		}
		if state.lastElapsed > 0 {
			st.LastElapsed = state.lastElapsed.String()
		}
		state.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) runJob(state *jobState) {
	if !state.sem.TryAcquire(1) {
		state.mu.Lock()
		state.skips++
		state.mu.Unlock()
		if s.logger != nil {
			s.logger.Warn("job overlap, skipping run", zap.String("job", state.job.Name))
		}
		return
	}
	defer state.sem.Release(1)

	started := time.Now()
	state.mu.Lock()
	state.running++
	state.runs++
	state.lastStart = started
	state.mu.Unlock()

	err := s.safeRun(state)

	state.mu.Lock()
	state.running--
	state.lastFinish = time.Now()
	state.lastElapsed = state.lastFinish.Sub(started)
	if err != nil {
		state.failures++
		state.lastErr = err.Error()
	} else {
		state.lastErr = ""
	}
	state.mu.Unlock()

	if s.logger != nil {
		if err != nil {
			s.logger.Error("job failed", zap.String("job", state.job.Name), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		} else {
			s.logger.Info("job finished", zap.String("job", state.job.Name), zap.Duration("elapsed", time.Since(started)))
		}
	}
}

// safeRun aísla pánicos del job para que no tumben el proceso.
func (s *Scheduler) safeRun(state *jobState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v\n%s", r, debug.Stack())
		}
	}()
	return state.job.Run(s.baseCtx)
}
