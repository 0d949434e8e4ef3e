package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/medkiosk/internal/conn"
	"github.com/mattjoyce/medkiosk/internal/decode"
	"github.com/mattjoyce/medkiosk/internal/events"
	"github.com/mattjoyce/medkiosk/internal/metrics"
	"github.com/mattjoyce/medkiosk/internal/reading"
	"github.com/mattjoyce/medkiosk/internal/station"
	"github.com/mattjoyce/medkiosk/internal/transport"
)

type fakeSource struct {
	id  string
	enc transport.Encoding
	del transport.Delivery

	mu       sync.Mutex
	openErrs []error
	opens    int
	polls    [][]byte
	pollErrs []error
	closes   int
}

func (f *fakeSource) ID() string                   { return f.id }
func (f *fakeSource) Encoding() transport.Encoding { return f.enc }
func (f *fakeSource) Delivery() transport.Delivery { return f.del }

func (f *fakeSource) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		if len(f.openErrs) > 1 {
			f.openErrs = f.openErrs[1:]
		}
		return err
	}
	return nil
}

func (f *fakeSource) Poll() ([]transport.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		return nil, err
	}
	if len(f.polls) == 0 {
		return nil, nil
	}
	data := f.polls[0]
	f.polls = f.polls[1:]
	return []transport.Frame{{SourceID: f.id, Data: data, At: time.Now()}}, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSource) queue(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, []byte(data))
}

func (f *fakeSource) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

// droppingSource reports a running total of discarded frames like the
// pushed transports do.
type droppingSource struct {
	*fakeSource
	dropped atomic.Uint64
}

func (d *droppingSource) Dropped() uint64 { return d.dropped.Load() }

type recordingSink struct {
	mu         sync.Mutex
	readings   []reading.Reading
	statuses   []conn.Status
	dispatches []station.Result
	notices    []events.Notice
}

func (r *recordingSink) Reading(rd reading.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, rd)
}

func (r *recordingSink) Status(st conn.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recordingSink) Dispatch(res station.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, res)
}

func (r *recordingSink) Notice(n events.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingSink) Readings() []reading.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reading.Reading(nil), r.readings...)
}

func (r *recordingSink) States(id string) []conn.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []conn.State
	for _, st := range r.statuses {
		if st.SourceID == id {
			out = append(out, st.State)
		}
	}
	return out
}

func (r *recordingSink) Classes() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int{}
	for _, n := range r.notices {
		out[n.Class]++
	}
	return out
}

func (r *recordingSink) lastState(id string) conn.State {
	states := r.States(id)
	if len(states) == 0 {
		return ""
	}
	return states[len(states)-1]
}

var fastReconnect = conn.Options{MinDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}

func startController(t *testing.T, c *Controller) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-errc:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("controller did not stop")
			return nil
		}
	}
}

func TestSerialFramesBecomeReadings(t *testing.T) {
	src := &fakeSource{id: "scale", enc: transport.EncodingLines, del: transport.DeliveryPolled}
	src.queue("Weight: 70500 g\nweight: abc g\nWeight: 999999 g\n")
	src.queue("height: 171 cm\n")

	sink := &recordingSink{}
	m := metrics.New()
	c, err := New(Options{PollInterval: 5 * time.Millisecond},
		[]Source{{ReadingSource: src, Reconnect: fastReconnect, Formats: []decode.LineFormat{decode.WeightFormat}}},
		sink, nil, m, nil)
	require.NoError(t, err)

	stop := startController(t, c)
	require.Eventually(t, func() bool {
		return sink.Classes()[events.ClassFrameParse] >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	rs := sink.Readings()
	require.Len(t, rs, 1)
	assert.Equal(t, reading.KindWeight, rs[0].Kind)
	assert.Equal(t, 70500.0, rs[0].Value)
	assert.Equal(t, "scale", rs[0].SourceID)

	classes := sink.Classes()
	assert.Equal(t, 1, classes[events.ClassOutOfRange])
	assert.Equal(t, 2, classes[events.ClassFrameParse], "bad number and the restricted height line")

	assert.Equal(t, []conn.State{conn.StateConnecting, conn.StateConnected, conn.StateDisconnected}, sink.States("scale"))
	_, closes := src.counts()
	assert.Equal(t, 1, closes)
}

func TestSerialInvalidUTF8IsStripped(t *testing.T) {
	src := &fakeSource{id: "height", enc: transport.EncodingLines, del: transport.DeliveryPolled}
	src.queue("height: 17\xff0 cm\n")

	sink := &recordingSink{}
	c, err := New(Options{PollInterval: 5 * time.Millisecond},
		[]Source{{ReadingSource: src, Reconnect: fastReconnect, Formats: []decode.LineFormat{decode.HeightFormat}}},
		sink, nil, nil, nil)
	require.NoError(t, err)

	stop := startController(t, c)
	require.Eventually(t, func() bool { return len(sink.Readings()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	rs := sink.Readings()
	assert.Equal(t, reading.KindHeight, rs[0].Kind)
	assert.Equal(t, 170.0, rs[0].Value)
	assert.Zero(t, sink.Classes()[events.ClassFrameParse])
}

func TestSerialOpenFailureIsFatal(t *testing.T) {
	bad := &fakeSource{id: "height", enc: transport.EncodingLines, del: transport.DeliveryPolled,
		openErrs: []error{&transport.OpenError{SourceID: "height", Target: "/dev/ttyUSB0@9600", Err: errors.New("no such file")}}}
	other := &fakeSource{id: "fusion", enc: transport.EncodingJSON, del: transport.DeliveryPushed}

	sink := &recordingSink{}
	c, err := New(Options{}, []Source{{ReadingSource: other}, {ReadingSource: bad}}, sink, nil, nil, nil)
	require.NoError(t, err)

	err = c.Run(context.Background())
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "height", fatal.SourceID)

	var sawFatal bool
	for _, n := range sink.notices {
		if n.Severity == events.SeverityFatal && n.SourceID == "height" {
			sawFatal = true
		}
	}
	assert.True(t, sawFatal, "fatal notice precedes exit")

	for _, s := range []*fakeSource{bad, other} {
		_, closes := s.counts()
		assert.Equal(t, 1, closes, s.id)
	}
	assert.Equal(t, conn.StateDisconnected, sink.lastState("height"))
}

func TestPushedSourceLifecycle(t *testing.T) {
	h := transport.NewHandoff(16)
	src := &fakeSource{id: "fusion", enc: transport.EncodingJSON, del: transport.DeliveryPushed}
	sink := &recordingSink{}

	c, err := New(Options{Handoff: h}, []Source{{
		ReadingSource: src,
		Reconnect:     fastReconnect,
		HeartRate:     decode.NewFixedSteps(1, 1, -1, 0),
	}}, sink, nil, nil, nil)
	require.NoError(t, err)
	stop := startController(t, c)

	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeConnected})
	require.Eventually(t, func() bool { return sink.lastState("fusion") == conn.StateConnected }, 2*time.Second, 5*time.Millisecond)

	src.queue(`{"spo2": 97, "temp": "36.6"}`)
	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeFrames})
	src.queue(`{"spo2": 150, "temp": "unknown"}`)
	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeFrames})
	src.queue(`not json`)
	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeFrames})

	require.Eventually(t, func() bool { return sink.Classes()[events.ClassFrameParse] == 1 }, 2*time.Second, 5*time.Millisecond)
	rs := sink.Readings()
	require.Len(t, rs, 3)
	assert.Equal(t, reading.KindSpO2, rs[0].Kind)
	assert.Equal(t, reading.KindTemperature, rs[1].Kind)
	assert.Equal(t, reading.KindHeartRate, rs[2].Kind)
	assert.Equal(t, 70.0, rs[2].Value)
	assert.Equal(t, 1, sink.Classes()[events.ClassOutOfRange], "spo2 150 rejected")

	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeLost, Err: errors.New("connection reset")})
	require.Eventually(t, func() bool {
		opens, _ := src.counts()
		return opens == 2
	}, 2*time.Second, 5*time.Millisecond)

	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeConnected})
	require.Eventually(t, func() bool { return sink.lastState("fusion") == conn.StateConnected }, 2*time.Second, 5*time.Millisecond)

	st := c.Statuses()
	require.Len(t, st, 1)
	assert.Zero(t, st[0].RetryCount)
	require.NoError(t, stop())

	assert.Equal(t, []conn.State{
		conn.StateConnecting, conn.StateConnected,
		conn.StateDegraded, conn.StateReconnecting, conn.StateConnecting, conn.StateConnected,
		conn.StateDisconnected,
	}, sink.States("fusion"))
}

func TestInboxOverflowIsReported(t *testing.T) {
	h := transport.NewHandoff(16)
	src := &droppingSource{fakeSource: &fakeSource{id: "fusion", enc: transport.EncodingJSON, del: transport.DeliveryPushed}}
	sink := &recordingSink{}
	m := metrics.New()

	c, err := New(Options{Handoff: h}, []Source{{ReadingSource: src, Reconnect: fastReconnect}}, sink, nil, m, nil)
	require.NoError(t, err)
	stop := startController(t, c)

	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeConnected})
	require.Eventually(t, func() bool { return sink.lastState("fusion") == conn.StateConnected }, 2*time.Second, 5*time.Millisecond)

	src.dropped.Store(3)
	src.queue(`{"spo2": 97}`)
	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeFrames})
	require.Eventually(t, func() bool { return len(sink.Readings()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// No new drops: no second notice.
	src.queue(`{"spo2": 98}`)
	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeFrames})
	require.Eventually(t, func() bool { return len(sink.Readings()) == 2 }, 2*time.Second, 5*time.Millisecond)

	src.dropped.Store(5)
	h.Post(transport.Notice{SourceID: "fusion", Type: transport.NoticeFrames})
	require.Eventually(t, func() bool { return sink.Classes()[events.ClassOverflow] == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, 5.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("fusion")))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	var msgs []string
	for _, n := range sink.notices {
		if n.Class == events.ClassOverflow {
			assert.Equal(t, events.SeverityWarning, n.Severity)
			assert.Equal(t, "fusion", n.SourceID)
			msgs = append(msgs, n.Message)
		}
	}
	assert.Equal(t, []string{"3 frame(s) dropped: inbox full", "2 frame(s) dropped: inbox full"}, msgs)
}

func TestPollErrorReconnects(t *testing.T) {
	src := &fakeSource{id: "height", enc: transport.EncodingLines, del: transport.DeliveryPolled,
		pollErrs: []error{errors.New("device unplugged")}}
	sink := &recordingSink{}
	c, err := New(Options{PollInterval: 5 * time.Millisecond}, []Source{{ReadingSource: src, Reconnect: fastReconnect}}, sink, nil, nil, nil)
	require.NoError(t, err)
	stop := startController(t, c)

	require.Eventually(t, func() bool {
		opens, _ := src.counts()
		return opens == 2 && sink.lastState("height") == conn.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []conn.State{
		conn.StateConnecting, conn.StateConnected,
		conn.StateDegraded, conn.StateReconnecting, conn.StateConnecting, conn.StateConnected,
		conn.StateDisconnected,
	}, sink.States("height"))
	assert.Equal(t, 1, sink.Classes()[events.ClassTransport])
}

func TestTeardownCancelsPendingRetry(t *testing.T) {
	src := &fakeSource{id: "fusion", enc: transport.EncodingJSON, del: transport.DeliveryPushed,
		openErrs: []error{errors.New("broker down")}}
	sink := &recordingSink{}
	c, err := New(Options{}, []Source{{
		ReadingSource: src,
		Reconnect:     conn.Options{MinDelay: 50 * time.Millisecond, MaxDelay: time.Second},
	}}, sink, nil, nil, nil)
	require.NoError(t, err)
	stop := startController(t, c)

	require.Eventually(t, func() bool { return sink.lastState("fusion") == conn.StateReconnecting }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	time.Sleep(120 * time.Millisecond)
	opens, closes := src.counts()
	assert.Equal(t, 1, opens, "retry timer must not fire after teardown")
	assert.Equal(t, 1, closes)
}

type fakeDispatcher struct {
	results map[string]station.Result
}

func (f fakeDispatcher) Dispatch(_ context.Context, title string) station.Result {
	if res, ok := f.results[title]; ok {
		return res
	}
	return station.Result{Title: title, Outcome: station.OutcomeNotFound}
}

func TestDispatchRunsOnLoop(t *testing.T) {
	sink := &recordingSink{}
	d := fakeDispatcher{results: map[string]station.Result{
		"Height": {Title: "Height", Outcome: station.OutcomeLaunched, PID: 4242},
	}}
	c, err := New(Options{}, nil, sink, d, nil, nil)
	require.NoError(t, err)
	stop := startController(t, c)

	res, err := c.Dispatch(context.Background(), "Height")
	require.NoError(t, err)
	assert.Equal(t, station.OutcomeLaunched, res.Outcome)
	assert.Equal(t, 4242, res.PID)

	res, err = c.Dispatch(context.Background(), "missing-title")
	require.NoError(t, err)
	assert.Equal(t, station.OutcomeNotFound, res.Outcome)

	require.NoError(t, stop())

	_, err = c.Dispatch(context.Background(), "Height")
	assert.ErrorIs(t, err, ErrStopped)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.dispatches, 2)
	require.Len(t, sink.notices, 1)
	assert.Equal(t, events.ClassDispatch, sink.notices[0].Class)
}

func TestDispatchHonoursContext(t *testing.T) {
	c, err := New(Options{}, nil, nil, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Dispatch(ctx, "Height")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	a := &fakeSource{id: "x", enc: transport.EncodingLines, del: transport.DeliveryPolled}
	b := &fakeSource{id: "x", enc: transport.EncodingJSON, del: transport.DeliveryPushed}
	_, err := New(Options{}, []Source{{ReadingSource: a}, {ReadingSource: b}}, nil, nil, nil, nil)
	assert.ErrorContains(t, err, "duplicate source id")
}

func TestRunOnlyOnce(t *testing.T) {
	c, err := New(Options{}, nil, nil, nil, nil, nil)
	require.NoError(t, err)
	stop := startController(t, c)
	require.Eventually(t, func() bool { return c.started.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Run(context.Background()), ErrAlreadyRunning)
	require.NoError(t, stop())
}
