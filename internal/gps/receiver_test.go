package gps

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"stratoprobe/internal/config"
	"stratoprobe/internal/gpio"
	"stratoprobe/internal/serial"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakePort is an in-memory serial port. Reads pop from a scripted buffer and
// time out when it runs dry; writes are recorded.
type fakePort struct {
	mu     sync.Mutex
	data   []byte
	writes []byte
	closed bool
}

var errPortClosed = errors.New("port closed")

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = append(p.data, b...)
}

func (p *fakePort) drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data) == 0
}

func (p *fakePort) ReadByte() (byte, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errPortClosed
	}
	if len(p.data) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, serial.ErrTimeout
	}
	b := p.data[0]
	p.data = p.data[1:]
	p.mu.Unlock()
	return b, nil
}

func (p *fakePort) Read(buf []byte) (int, error) {
	b, err := p.ReadByte()
	if err != nil {
		return 0, err
	}
	buf[0] = b
	return 1, nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	p.writes = append(p.writes, buf...)
	return len(buf), nil
}

func (p *fakePort) Flush() error { return nil }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func fastTimings() timings {
	return timings{
		PowerSettle:   time.Millisecond,
		ConfigRepeats: 2,
		ConfigSpacing: 0,
		AckOuter:      150 * time.Millisecond,
		AckInner:      40 * time.Millisecond,
		AckWakePause:  time.Millisecond,
	}
}

func newTestReceiver(port *fakePort, pin *gpio.Fake) *Receiver {
	open := func(path string, baud int) (serial.Port, error) { return port, nil }
	r := New(config.GPSConfig{UART: "/dev/ttyAMA0", Baud: 9600, PowerPin: 3}, pin, open, testLogger())
	r.tm = fastTimings()
	return r
}

func TestAckWait_BoundedBySilence(t *testing.T) {
	port := &fakePort{}
	r := newTestReceiver(port, gpio.NewFake(0))

	start := time.Now()
	err := r.enterAirborne1gMode(port)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrAckTimeout)
	require.GreaterOrEqual(t, elapsed, r.tm.AckOuter, "must exhaust the outer deadline")
	require.Less(t, elapsed, r.tm.AckOuter+r.tm.AckInner+100*time.Millisecond, "must not hang past the deadline")
}

func TestAckWait_MatchesAck(t *testing.T) {
	port := &fakePort{}
	port.feed(ubxAckFor(ubxClassCfg, ubxIDCfgNav5))
	r := newTestReceiver(port, gpio.NewFake(0))

	require.NoError(t, r.enterAirborne1gMode(port))
}

func TestAckWait_ReexaminesMismatchByte(t *testing.T) {
	ack := ubxAckFor(ubxClassCfg, ubxIDCfgNav5)

	// 0xB5 0x62 0xB5... : the third byte breaks the partial match but must
	// be treated as the start of a fresh one.
	stream := append([]byte{ack[0], ack[1]}, ack...)
	port := &fakePort{}
	port.feed(stream)
	r := newTestReceiver(port, gpio.NewFake(0))

	require.NoError(t, r.enterAirborne1gMode(port))
}

func TestAckWait_NoiseThenAck(t *testing.T) {
	ack := ubxAckFor(ubxClassCfg, ubxIDCfgNav5)
	stream := append([]byte{0x00, 0xFF, ack[0], 0x13}, ack...)
	port := &fakePort{}
	port.feed(stream)
	r := newTestReceiver(port, gpio.NewFake(0))

	require.NoError(t, r.enterAirborne1gMode(port))
}

func TestInitialize_PowerCyclesWhenAlreadyOn(t *testing.T) {
	port := &fakePort{}
	port.feed(ubxAckFor(ubxClassCfg, ubxIDCfgNav5))
	pin := gpio.NewFake(1)
	r := newTestReceiver(port, pin)
	defer func() { require.NoError(t, r.Close()) }()

	require.NoError(t, r.Initialize())
	require.Equal(t, gpio.Out, pin.Dir)
	// Off for stability, then on.
	require.Equal(t, []int{0, 1}, pin.Writes[:2])

	// Every configuration frame went out the configured number of times.
	var want int
	for _, f := range configFrames() {
		want += len(f) * r.tm.ConfigRepeats
	}
	port.mu.Lock()
	got := len(port.writes)
	port.mu.Unlock()
	require.GreaterOrEqual(t, got, want)
}

func TestInitialize_Twice(t *testing.T) {
	port := &fakePort{}
	port.feed(ubxAckFor(ubxClassCfg, ubxIDCfgNav5))
	r := newTestReceiver(port, gpio.NewFake(0))
	defer func() { require.NoError(t, r.Close()) }()

	require.NoError(t, r.Initialize())
	require.ErrorIs(t, r.Initialize(), ErrAlreadyInitialized)
}

func startIngestion(t *testing.T, r *Receiver, port *fakePort) {
	t.Helper()
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.ingest(port, r.done)
	t.Cleanup(func() {
		close(r.done)
		r.done = nil
		_ = port.Close()
		r.wg.Wait()
	})
}

func TestLatestData_ActiveFix(t *testing.T) {
	port := &fakePort{}
	r := newTestReceiver(port, gpio.NewFake(1))
	startIngestion(t, r, port)

	port.feed([]byte("$GPGGA,170834,4124.8963,N,08151.6838,W,1,07,1.3,280.2,M,-34.0,M,,*71\r\n"))
	port.feed([]byte("$GPRMC,170834,A,4124.8963,N,08151.6838,W,10.5,83.1,220525,,*05\r\n"))

	require.Eventually(t, func() bool {
		_, ok := r.LatestData()
		return ok
	}, time.Second, time.Millisecond)

	fix, ok := r.LatestData()
	require.True(t, ok)
	require.Equal(t, Active, fix.Status)
	require.Equal(t, 7, fix.Satellites)
	require.InDelta(t, 280.2, fix.Altitude, 1e-9)
}

func TestLatestData_VoidClearsSlot(t *testing.T) {
	port := &fakePort{}
	r := newTestReceiver(port, gpio.NewFake(1))
	startIngestion(t, r, port)

	// Two active epochs followed by a void one: the slot must end empty
	// even though valid fixes came earlier.
	port.feed([]byte("$GPRMC,170834,A,4124.8963,N,08151.6838,W,10.5,83.1,220525,,*05\r\n"))
	port.feed([]byte("$GPRMC,170840,A,4124.9000,N,08151.7000,W,0.0,0.0,220525,,*07\r\n"))
	port.feed([]byte("$GPRMC,170836,V,,,,,,,220525,,*38\r\n"))

	require.Eventually(t, port.drained, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := r.LatestData()
		return !ok
	}, time.Second, time.Millisecond)
}

func TestTurnOnOff_NoOpWarnings(t *testing.T) {
	pin := gpio.NewFake(1)
	r := newTestReceiver(&fakePort{}, pin)

	// Already on: no write.
	require.NoError(t, r.TurnOn())
	require.Empty(t, pin.Writes)

	require.NoError(t, r.TurnOff())
	require.Equal(t, []int{0}, pin.Writes)

	// Already off: no extra write.
	require.NoError(t, r.TurnOff())
	require.Equal(t, []int{0}, pin.Writes)
}
