// Package controller is the single consumer of everything the sources
// produce. One goroutine runs Run; it polls serial sources on a tick, drains
// the hand-off that pushed sources post to, fires reconnect timers and
// serializes station dispatches. Connection machines, decoders and the status
// snapshot are written only from that goroutine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/medkiosk/internal/conn"
	"github.com/mattjoyce/medkiosk/internal/decode"
	"github.com/mattjoyce/medkiosk/internal/events"
	"github.com/mattjoyce/medkiosk/internal/metrics"
	"github.com/mattjoyce/medkiosk/internal/reading"
	"github.com/mattjoyce/medkiosk/internal/station"
	"github.com/mattjoyce/medkiosk/internal/transport"
)

const defaultPollInterval = 100 * time.Millisecond

var (
	ErrAlreadyRunning = errors.New("controller already running")
	ErrStopped        = errors.New("controller stopped")
)

// FatalError stops Run when a mandatory source cannot be opened at startup.
type FatalError struct {
	SourceID string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("mandatory source %s unavailable: %v", e.SourceID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Dispatcher launches stations by title.
type Dispatcher interface {
	Dispatch(ctx context.Context, title string) station.Result
}

// Source is a reading source plus what the controller needs to run it.
type Source struct {
	transport.ReadingSource
	// Reconnect configures the source's connection machine.
	Reconnect conn.Options
	// Formats restricts line decoding. Empty means every known format.
	Formats []decode.LineFormat
	// HeartRate drives heart-rate synthesis for JSON sources. Nil uses a
	// time-seeded random walk.
	HeartRate decode.StepSource
}

// Options configures a Controller.
type Options struct {
	PollInterval time.Duration
	// Handoff is the channel pushed sources were built with. Nil creates
	// one, which only suits controllers without pushed sources.
	Handoff *transport.Handoff
}

// dropCounter is implemented by sources that discard frames when their
// inbox is full.
type dropCounter interface {
	Dropped() uint64
}

type sourceState struct {
	src     Source
	machine *conn.Machine
	fusion  *decode.FusionDecoder
	timer   *time.Timer
	dropped uint64
}

type dispatchRequest struct {
	ctx   context.Context
	title string
	reply chan station.Result
}

// Controller owns the consumer loop.
type Controller struct {
	opts       Options
	sources    []*sourceState
	byID       map[string]*sourceState
	handoff    *transport.Handoff
	sink       events.Sink
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	retries  chan string
	requests chan dispatchRequest
	stopped  chan struct{}
	started  atomic.Bool

	mu       sync.RWMutex
	statuses map[string]conn.Status
}

// New builds a controller. Source ids must be unique. sink, dispatcher and m
// may be nil.
func New(opts Options, sources []Source, sink events.Sink, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) (*Controller, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Handoff == nil {
		opts.Handoff = transport.NewHandoff(0)
	}
	if sink == nil {
		sink = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		opts:       opts,
		byID:       make(map[string]*sourceState, len(sources)),
		handoff:    opts.Handoff,
		sink:       sink,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With("component", "controller"),
		now:        time.Now,
		retries:    make(chan string, len(sources)+1),
		requests:   make(chan dispatchRequest),
		stopped:    make(chan struct{}),
		statuses:   make(map[string]conn.Status, len(sources)),
	}

	for _, src := range sources {
		if src.ReadingSource == nil {
			return nil, errors.New("nil reading source")
		}
		id := src.ID()
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("duplicate source id %q", id)
		}
		s := &sourceState{src: src}
		s.machine = conn.NewMachine(id, src.Reconnect, c.onStatus)
		if src.Encoding() == transport.EncodingJSON {
			steps := src.HeartRate
			if steps == nil {
				steps = decode.RandomSteps(time.Now().UnixNano())
			}
			s.fusion = decode.NewFusionDecoder(steps)
		}
		c.sources = append(c.sources, s)
		c.byID[id] = s
		c.statuses[id] = s.machine.Status()
	}
	return c, nil
}

// Statuses returns the latest status of every source, sorted by id.
func (c *Controller) Statuses() []conn.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]conn.Status, 0, len(c.statuses))
	for _, st := range c.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Dispatch asks the loop to launch title and waits for the result.
func (c *Controller) Dispatch(ctx context.Context, title string) (station.Result, error) {
	req := dispatchRequest{ctx: ctx, title: title, reply: make(chan station.Result, 1)}
	select {
	case c.requests <- req:
	case <-c.stopped:
		return station.Result{}, ErrStopped
	case <-ctx.Done():
		return station.Result{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return station.Result{}, ctx.Err()
	}
}

// Run opens every source and consumes until ctx is done. It returns nil on
// cancellation and a *FatalError when a serial source cannot be opened at
// startup. Run may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.teardown()

	c.logger.Info("controller starting", "sources", len(c.sources), "poll_interval", c.opts.PollInterval.String())
	if err := c.openAll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping")
			return nil
		case <-ticker.C:
			c.pollTick()
		case n := <-c.handoff.C():
			c.handleNotice(n)
		case id := <-c.retries:
			c.retry(ctx, id)
		case req := <-c.requests:
			req.reply <- c.dispatch(req)
		}
	}
}

func (c *Controller) openAll(ctx context.Context) error {
	for _, s := range c.sources {
		if err := s.machine.Connect(); err != nil {
			return err
		}
		err := s.src.Open(ctx)
		if err == nil {
			if s.src.Delivery() == transport.DeliveryPolled {
				_ = s.machine.Connected()
			}
			continue
		}
		if s.src.Delivery() == transport.DeliveryPolled {
			c.notice(s, events.SeverityFatal, events.ClassTransport, err.Error())
			c.logger.Error("mandatory source failed to open", "source_id", s.src.ID(), "error", err)
			return &FatalError{SourceID: s.src.ID(), Err: err}
		}
		c.fail(s, err)
	}
	return nil
}

func (c *Controller) pollTick() {
	for _, s := range c.sources {
		if s.src.Delivery() != transport.DeliveryPolled {
			continue
		}
		switch s.machine.State() {
		case conn.StateConnected, conn.StateDegraded:
		default:
			continue
		}
		frames, err := s.src.Poll()
		if err != nil {
			c.fail(s, err)
			continue
		}
		if s.machine.State() == conn.StateDegraded {
			_ = s.machine.Connected()
		}
		c.consume(s, frames)
	}
}

func (c *Controller) handleNotice(n transport.Notice) {
	s, ok := c.byID[n.SourceID]
	if !ok || s.machine.Terminated() {
		return
	}
	switch n.Type {
	case transport.NoticeConnected:
		if err := s.machine.Connected(); err != nil {
			c.logger.Debug("ignoring connected notice", "source_id", n.SourceID, "error", err)
		}
	case transport.NoticeFrames:
		frames, err := s.src.Poll()
		c.reportDrops(s)
		if err != nil {
			c.fail(s, err)
			return
		}
		c.consume(s, frames)
	case transport.NoticeLost, transport.NoticeConnectFailed:
		err := n.Err
		if err == nil {
			err = errors.New(string(n.Type))
		}
		c.fail(s, err)
	}
}

// fail reports err and feeds it to the machine, arming a retry timer when the
// machine moved to reconnecting.
func (c *Controller) fail(s *sourceState, err error) {
	c.notice(s, events.SeverityWarning, events.ClassTransport, err.Error())
	c.logger.Warn("source failure", "source_id", s.src.ID(), "state", string(s.machine.State()), "error", err)

	delay, ferr := s.machine.Failure(err)
	if ferr != nil {
		c.logger.Debug("failure ignored", "source_id", s.src.ID(), "error", ferr)
		return
	}
	if delay > 0 {
		c.schedule(s, delay)
	}
}

func (c *Controller) schedule(s *sourceState, delay time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	id := s.src.ID()
	s.timer = time.AfterFunc(delay, func() {
		select {
		case c.retries <- id:
		case <-c.stopped:
		}
	})
}

func (c *Controller) retry(ctx context.Context, id string) {
	s, ok := c.byID[id]
	if !ok || s.machine.State() != conn.StateReconnecting {
		return
	}
	s.timer = nil
	if err := s.machine.RetryDue(); err != nil {
		c.logger.Debug("retry ignored", "source_id", id, "error", err)
		return
	}
	if err := s.src.Open(ctx); err != nil {
		c.fail(s, err)
		return
	}
	if s.src.Delivery() == transport.DeliveryPolled {
		_ = s.machine.Connected()
	}
}

func (c *Controller) consume(s *sourceState, frames []transport.Frame) {
	for _, f := range frames {
		at := f.At
		if at.IsZero() {
			at = c.now()
		}
		switch s.src.Encoding() {
		case transport.EncodingLines:
			batch := decode.DecodeLines(strings.ToValidUTF8(string(f.Data), ""), s.src.Formats...)
			for _, perr := range batch.Errors {
				c.frameError(s, perr)
			}
			for _, v := range batch.Values {
				c.publish(s, v, at)
			}
		case transport.EncodingJSON:
			values, fieldErrs, err := s.fusion.Decode(f.Data)
			if err != nil {
				var perr *decode.FrameParseError
				if !errors.As(err, &perr) {
					perr = &decode.FrameParseError{Reason: decode.ReasonUnknownFormat, Detail: err.Error()}
				}
				c.frameError(s, perr)
				continue
			}
			for _, perr := range fieldErrs {
				c.frameError(s, perr)
			}
			for _, v := range values {
				c.publish(s, v, at)
			}
		}
	}
}

// reportDrops surfaces frames the source discarded since the last drain.
func (c *Controller) reportDrops(s *sourceState) {
	dc, ok := s.src.ReadingSource.(dropCounter)
	if !ok {
		return
	}
	total := dc.Dropped()
	if total <= s.dropped {
		return
	}
	n := total - s.dropped
	s.dropped = total
	c.metrics.ObserveFramesDropped(s.src.ID(), n)
	c.notice(s, events.SeverityWarning, events.ClassOverflow, fmt.Sprintf("%d frame(s) dropped: inbox full", n))
	c.logger.Warn("frames dropped", "source_id", s.src.ID(), "count", n, "total", total)
}

func (c *Controller) frameError(s *sourceState, perr *decode.FrameParseError) {
	c.metrics.ObserveFrameError(s.src.ID(), string(perr.Reason))
	c.notice(s, events.SeverityWarning, events.ClassFrameParse, perr.Error())
}

func (c *Controller) publish(s *sourceState, v decode.Value, at time.Time) {
	r, err := reading.Normalize(reading.Reading{
		Kind:      v.Kind,
		Value:     v.Value,
		Unit:      v.Unit,
		SourceID:  s.src.ID(),
		Timestamp: at,
	})
	if err != nil {
		class := events.ClassOutOfRange
		var unitErr *reading.UnitMismatchError
		if errors.As(err, &unitErr) {
			class = events.ClassUnitMismatch
		}
		c.metrics.ObserveRejected(s.src.ID(), string(v.Kind))
		c.notice(s, events.SeverityWarning, class, err.Error())
		return
	}
	c.metrics.ObserveReading(r.SourceID, string(r.Kind))
	c.sink.Reading(r)
}

func (c *Controller) dispatch(req dispatchRequest) station.Result {
	if c.dispatcher == nil {
		res := station.Result{Title: req.title, Outcome: station.OutcomeNotFound, Reason: "no stations configured", At: c.now().UTC()}
		c.reportDispatch(res)
		return res
	}
	res := c.dispatcher.Dispatch(req.ctx, req.title)
	c.reportDispatch(res)
	return res
}

func (c *Controller) reportDispatch(res station.Result) {
	c.metrics.ObserveDispatch(string(res.Outcome))
	c.sink.Dispatch(res)
	if res.Outcome == station.OutcomeLaunched {
		return
	}
	msg := fmt.Sprintf("%s: %s", res.Title, res.Outcome)
	if res.Reason != "" {
		msg += ": " + res.Reason
	}
	c.sink.Notice(events.Notice{Severity: events.SeverityError, Class: events.ClassDispatch, Message: msg, At: c.now().UTC()})
}

func (c *Controller) notice(s *sourceState, sev events.Severity, class, msg string) {
	c.sink.Notice(events.Notice{SourceID: s.src.ID(), Severity: sev, Class: class, Message: msg, At: c.now().UTC()})
}

func (c *Controller) onStatus(st conn.Status) {
	c.mu.Lock()
	c.statuses[st.SourceID] = st
	c.mu.Unlock()
	c.metrics.ObserveStatus(st)
	c.sink.Status(st)
}

// teardown cancels pending retries, closes every source once and then shuts
// each machine down.
func (c *Controller) teardown() {
	close(c.stopped)
	for _, s := range c.sources {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
	}
	c.handoff.Close()
	for _, s := range c.sources {
		if err := s.src.Close(); err != nil {
			c.logger.Warn("close source", "source_id", s.src.ID(), "error", err)
		}
	}
	for _, s := range c.sources {
		s.machine.Shutdown()
	}
	c.logger.Info("controller stopped")
}
