package link

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhound/trailhound/internal/bus"
	"github.com/trailhound/trailhound/internal/codec"
	"github.com/trailhound/trailhound/internal/gps"
	"github.com/trailhound/trailhound/internal/testutil"
)

const testDeviceID = "TX1A2B3C"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newTestLink(t *testing.T, radio Radio) (*Link, *bus.Dispatcher, *testutil.Clock) {
	t.Helper()

	c, err := codec.New("01234567")
	require.NoError(t, err)

	d := bus.New(bus.WithLogger(quietLogger()))
	clk := testutil.NewClock()

	l, err := New(radio, c, d, testDeviceID,
		WithClock(clk),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	return l, d, clk
}

func packedReport(t *testing.T, rpt codec.Report) []byte {
	t.Helper()
	c, err := codec.New("01234567")
	require.NoError(t, err)
	payload, err := rpt.MarshalPayload()
	require.NoError(t, err)
	return c.Pack(payload)
}

func TestNew_Validation(t *testing.T) {
	c, err := codec.New("01234567")
	require.NoError(t, err)
	d := bus.New(bus.WithLogger(quietLogger()))

	_, err = New(nil, c, d, testDeviceID)
	assert.Error(t, err)

	_, err = New(testutil.NewRadio(), nil, d, testDeviceID)
	assert.Error(t, err)

	_, err = New(testutil.NewRadio(), c, nil, testDeviceID)
	assert.Error(t, err)

	_, err = New(testutil.NewRadio(), c, d, "")
	assert.Error(t, err)
}

func TestLink_Send_StampsIDAndPublishes(t *testing.T) {
	radio := testutil.NewRadio()
	l, d, clk := newTestLink(t, radio)

	var sent Sent
	d.SubscribeFunc(TopicSent, bus.Immediate, func(_ context.Context, payload any) error {
		sent = payload.(Sent)
		return nil
	})

	clk.Advance(6 * time.Second)

	// Rovers build reports without an ID; the link stamps its own.
	toa, ok, err := l.Send(context.Background(), codec.Report{
		Fix: gps.Fix{Lat: gps.Float64(36.1569), Lon: gps.Float64(-95.9915)},
	})
	require.NoError(t, err)
	require.True(t, ok)

	frames := radio.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, radio.TimeOnAir(len(frames[0])), toa)

	c, err := codec.New("01234567")
	require.NoError(t, err)
	rpt, err := codec.ParseReport(c.Unpack(frames[0]))
	require.NoError(t, err)
	assert.Equal(t, testDeviceID, rpt.ID)
	assert.Equal(t, 36.1569, *rpt.Lat)

	assert.Equal(t, testDeviceID, sent.Report.ID, "published report carries the stamped id")
	assert.Equal(t, toa, sent.Airtime)
}

func TestLink_Send_RateLimited(t *testing.T) {
	radio := testutil.NewRadio()
	l, _, clk := newTestLink(t, radio)

	clk.Advance(6 * time.Second)
	_, ok, err := l.Send(context.Background(), codec.Report{})
	require.NoError(t, err)
	require.True(t, ok)

	// Inside the window: skipped without touching the radio.
	_, ok, err = l.Send(context.Background(), codec.Report{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, radio.TransmitCount())
	assert.Equal(t, uint64(1), l.Stats().RateLimited)

	// The window closes exactly one interval later.
	clk.Advance(5 * time.Second)
	_, ok, err = l.Send(context.Background(), codec.Report{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, radio.TransmitCount())
}

func TestLink_Send_BootWindow(t *testing.T) {
	radio := testutil.NewRadio()
	l, _, clk := newTestLink(t, radio)

	// Fresh boot: the first interval is closed.
	_, ok, err := l.Send(context.Background(), codec.Report{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, radio.TransmitCount())

	clk.Advance(5 * time.Second)
	_, ok, err = l.Send(context.Background(), codec.Report{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLink_Send_RadioErrorDoesNotAdvanceWindow(t *testing.T) {
	radio := testutil.NewRadio()
	l, _, clk := newTestLink(t, radio)

	clk.Advance(6 * time.Second)
	radio.SetTransmitErr(errors.New("antenna fell off"))

	_, ok, err := l.Send(context.Background(), codec.Report{})
	assert.Error(t, err)
	assert.False(t, ok)

	// The failure did not consume the window: healing the radio lets the
	// next attempt through immediately.
	radio.SetTransmitErr(nil)
	_, ok, err = l.Send(context.Background(), codec.Report{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLink_Send_FrameTooLong(t *testing.T) {
	radio := testutil.NewRadio()
	radio.SetMaxFrameLen(4)
	l, _, clk := newTestLink(t, radio)

	clk.Advance(6 * time.Second)
	_, ok, err := l.Send(context.Background(), codec.Report{})
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, radio.TransmitCount())
}

func TestLink_Send_MutualExclusion(t *testing.T) {
	radio := testutil.NewRadio()
	l, _, clk := newTestLink(t, radio)
	clk.Advance(6 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	radio.SetOnTransmit(func([]byte) error {
		close(started)
		<-release
		return nil
	})

	winner := make(chan bool, 1)
	go func() {
		_, ok, _ := l.Send(context.Background(), codec.Report{})
		winner <- ok
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first send never reached the radio")
	}

	// While the radio is mid-transmit, every other attempt is turned away.
	for i := 0; i < 4; i++ {
		_, ok, err := l.Send(context.Background(), codec.Report{})
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, uint64(4), l.Stats().Busy)

	close(release)
	select {
	case ok := <-winner:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("winning send never finished")
	}
	assert.Equal(t, 1, radio.TransmitCount())
}

func TestLink_Receive_PublishesValidReport(t *testing.T) {
	radio := testutil.NewRadio()
	l, d, _ := newTestLink(t, radio)

	got := make(chan Received, 1)
	d.SubscribeFunc(TopicReceived, bus.Immediate, func(_ context.Context, payload any) error {
		got <- payload.(Received)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	f := packedReport(t, codec.Report{ID: "TXAABBCC", Fix: gps.Fix{Sat: gps.Int(8)}})
	l.HandleReceive(f, -72)

	select {
	case rx := <-got:
		assert.Equal(t, "TXAABBCC", rx.Report.ID)
		assert.Equal(t, 8, *rx.Report.Sat)
		assert.Equal(t, -72, rx.RSSI)
		assert.Equal(t, radio.TimeOnAir(len(f)), rx.Airtime)
	case <-time.After(time.Second):
		t.Fatal("no link.received event")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestLink_Receive_DropsMalformed(t *testing.T) {
	radio := testutil.NewRadio()
	l, d, _ := newTestLink(t, radio)

	var published int
	d.SubscribeFunc(TopicReceived, bus.Immediate, func(context.Context, any) error {
		published++
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	c, err := codec.New("01234567")
	require.NoError(t, err)

	l.HandleReceive(c.Pack([]byte("not json at all")), -60)
	l.HandleReceive(c.Pack([]byte(`{"lat":1.5}`)), -60) // json but no id
	l.HandleReceive([]byte{0xff, 0x00, 0x7f}, -60)      // wrong secret garbage

	assert.Eventually(t, func() bool {
		return l.Stats().Malformed == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, published)
	assert.Equal(t, uint64(0), l.Stats().Received)
}

func TestLink_Receive_QueueFullDrops(t *testing.T) {
	radio := testutil.NewRadio()

	c, err := codec.New("01234567")
	require.NoError(t, err)
	d := bus.New(bus.WithLogger(quietLogger()))
	l, err := New(radio, c, d, testDeviceID,
		WithLogger(quietLogger()),
		WithQueueDepth(2),
	)
	require.NoError(t, err)

	// No consumer running: the third frame has nowhere to go.
	f := packedReport(t, codec.Report{ID: "TXAABBCC"})
	l.HandleReceive(f, -60)
	l.HandleReceive(f, -61)
	l.HandleReceive(f, -62)

	st := l.Stats()
	assert.Equal(t, uint64(1), st.QueueDrops)
	assert.Equal(t, 2, st.QueueDepth)

	// The queued two still get through once the consumer starts.
	var published int
	done := make(chan struct{})
	d.SubscribeFunc(TopicReceived, bus.Immediate, func(context.Context, any) error {
		published++
		if published == 2 {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected 2 deliveries, got %d", published)
	}
}

func TestLink_Close_SilencesLateFrames(t *testing.T) {
	radio := testutil.NewRadio()
	l, _, _ := newTestLink(t, radio)

	l.Close()
	l.HandleReceive([]byte("straggler"), -60)

	assert.Equal(t, uint64(0), l.Stats().QueueDrops, "frames after close are not exhaustion")
}
