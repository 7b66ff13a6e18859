package cron

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/runner"

	rcron "github.com/robfig/cron/v3"
)

// Logger interface shared across packages
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Scheduler drives the time-based side of a workflow host: approval
// timeout sweeps, scheduled workflow starts, and ad-hoc one-shot timers.
// Recurring work rides on robfig/cron expressions; ScheduleAfter and
// ScheduleAt cover single deadlines such as an approval expiring.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)

	logger    Logger
	parser    Parser
	logWriter io.Writer
	logLevel  LogLevel

	nextHandleID int64
	handles      map[int64]*scheduleHandle
}

// NewScheduler creates a new scheduler instance with the provided options.
func NewScheduler(opts ...Option) *Scheduler {
	cs := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		errorHandler: func(err error) {
			log.Printf("error: %v\n", err)
		},
		handles: make(map[int64]*scheduleHandle),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cs)
		}
	}

	cs.cron = rcron.New(cs.build()...)
	return cs
}

// SetLogger swaps the scheduler logger after construction.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// ScheduleCron registers a recurring handler under a cron expression.
// The returned Handle cancels just this entry.
func (s *Scheduler) ScheduleCron(opts HandlerOptions, handler any) (Handle, error) {
	if opts.Expression == "" {
		return nil, fmt.Errorf("cron expression cannot be empty")
	}
	run, err := s.buildRunnable(opts, handler)
	if err != nil {
		return nil, err
	}

	sub := s.newHandle()
	job := rcron.FuncJob(func() { s.runTracked(sub, run) })

	entryID, err := s.cron.AddJob(opts.Expression, job)
	if err != nil {
		return nil, fmt.Errorf("failed to add job: %w", err)
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	return sub, nil
}

// runTracked runs one firing of a recurring entry, moving the handle
// through running and back to idle, or to failed.
func (s *Scheduler) runTracked(sub *scheduleHandle, run func() error) {
	if isTerminalStatus(sub.Status()) {
		return
	}

	sub.setStatus(ScheduleStatusRunning, nil)
	if err := run(); err != nil {
		sub.setStatus(ScheduleStatusFailed, err)
		s.errorHandler(err)
		return
	}

	if !isTerminalStatus(sub.Status()) {
		sub.setStatus(ScheduleStatusIdle, nil)
	}
}

// ScheduleAfter runs the handler once after delay, e.g. to fire an
// approval timeout.
func (s *Scheduler) ScheduleAfter(delay time.Duration, opts HandlerOptions, handler any) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), opts, handler)
}

// ScheduleAt runs the handler once at a wall-clock time.
func (s *Scheduler) ScheduleAt(at time.Time, opts HandlerOptions, handler any) (Handle, error) {
	run, err := s.buildRunnable(opts, handler)
	if err != nil {
		return nil, err
	}

	sub := s.newHandle()
	s.storeHandle(sub)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		if err := run(); err != nil {
			sub.setTerminal(ScheduleStatusFailed, err)
			s.errorHandler(err)
			s.removeStoredHandle(sub.id)
			return
		}
		sub.setTerminal(ScheduleStatusCompleted, nil)
		s.removeStoredHandle(sub.id)
	}()

	return sub, nil
}

// ScheduleCommand delivers msg to a Commander on every firing of the cron
// expression, with the retry policy from opts. Hosts use it to push
// recurring StartStep or sweep messages into the engine.
func ScheduleCommand[T workflow.Message](s *Scheduler, opts HandlerOptions, cmd workflow.Commander[T], msg T) (Handle, error) {
	if s == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	h := runner.NewHandler(makeRunnerOptions(s, opts)...)
	return s.ScheduleCron(opts, func() error {
		return runner.RunCommand(context.Background(), h, cmd, msg)
	})
}

// RemoveHandler removes a scheduled job by entry ID.
func (s *Scheduler) RemoveHandler(entryID int) {
	if s == nil {
		return
	}

	var affected []*scheduleHandle
	s.mu.Lock()
	for id, handle := range s.handles {
		if handle != nil && handle.entryID == entryID {
			affected = append(affected, handle)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	s.cron.Remove(rcron.EntryID(entryID))
	for _, handle := range affected {
		handle.setTerminal(ScheduleStatusCanceled, nil)
	}
}

// Start begins executing scheduled cron jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops executing scheduled jobs and marks active handles as stopped.
func (s *Scheduler) Stop(_ context.Context) error {
	s.cron.Stop()

	var handles []*scheduleHandle
	s.mu.Lock()
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*scheduleHandle)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if isTerminalStatus(handle.Status()) {
			continue
		}
		handle.setTerminal(ScheduleStatusStopped, nil)
	}
	return nil
}

func (s *Scheduler) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle == nil {
		return
	}
	if handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *scheduleHandle {
	if s == nil || id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Scheduler) storeHandle(handle *scheduleHandle) {
	if s == nil || handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles == nil {
		s.handles = make(map[int64]*scheduleHandle)
	}
	s.handles[handle.id] = handle
}

func (s *Scheduler) newHandle() *scheduleHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &scheduleHandle{
		scheduler: s,
		id:        s.nextHandleID,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

func isTerminalStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

func (s *Scheduler) buildRunnable(opts HandlerOptions, handler any) (func() error, error) {
	h := runner.NewHandler(makeRunnerOptions(s, opts)...)

	switch r := handler.(type) {
	case func():
		return func() error {
			r()
			return nil
		}, nil
	case func() error:
		return r, nil
	case func(context.Context) error:
		return func() error {
			return h.Run(context.Background(), r)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported handler type: %T", handler)
	}
}

func makeRunnerOptions(s *Scheduler, opts HandlerOptions) []runner.Option {
	runnerOpts := []runner.Option{
		runner.WithMaxRetries(opts.MaxRetries),
		runner.WithDeadline(opts.Deadline),
		runner.WithRunOnce(opts.RunOnce),
		runner.WithErrorHandler(s.errorHandler),
	}
	if s.logger != nil {
		runnerOpts = append(runnerOpts, runner.WithLogger(s.logger))
	}
	if opts.NoTimeout {
		runnerOpts = append(runnerOpts, runner.WithNoTimeout())
	} else if opts.Timeout > 0 {
		runnerOpts = append(runnerOpts, runner.WithTimeout(opts.Timeout))
	}
	if opts.MaxRuns > 0 {
		runnerOpts = append(runnerOpts, runner.WithMaxRuns(opts.MaxRuns))
	}
	return runnerOpts
}

func newPrintfLogger(out io.Writer, level LogLevel) rcron.Logger {
	stdLogger := log.New(out, "cron: ", log.LstdFlags)
	if level >= LogLevelDebug {
		return rcron.VerbosePrintfLogger(stdLogger)
	}
	return rcron.PrintfLogger(stdLogger)
}

// build converts implementation-agnostic options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	if s.errorHandler != nil {
		opts = append(opts, rcron.WithChain(
			rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
		))
	}

	var cronLogger rcron.Logger
	switch {
	case s.logger != nil:
		cronLogger = &loggerAdapter{logger: s.logger, level: s.logLevel}
	case s.logWriter != nil:
		cronLogger = newPrintfLogger(s.logWriter, s.logLevel)
	default:
		if s.logLevel > LogLevelSilent {
			cronLogger = newPrintfLogger(os.Stdout, s.logLevel)
		}
	}

	if cronLogger != nil {
		opts = append(opts, rcron.WithLogger(cronLogger))
	}

	return opts
}
