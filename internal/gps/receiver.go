// Package gps drives the u-blox positioning receiver: power sequencing over
// GPIO, UBX configuration over serial, and a background ingestion path that
// keeps the single latest valid fix.
package gps

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stratoprobe/internal/config"
	"stratoprobe/internal/gpio"
	"stratoprobe/internal/serial"
)

var (
	// ErrAlreadyInitialized is returned by Initialize on a live receiver.
	ErrAlreadyInitialized = errors.New("gps: already initialized")
	// ErrAckTimeout is returned when a configuration frame is never
	// acknowledged within the outer deadline.
	ErrAckTimeout = errors.New("gps: configuration frame was not acknowledged")
)

// timings collects the protocol delays so tests can shrink them.
type timings struct {
	PowerSettle   time.Duration
	ConfigRepeats int
	ConfigSpacing time.Duration
	AckOuter      time.Duration
	AckInner      time.Duration
	AckWakePause  time.Duration
}

func defaultTimings() timings {
	return timings{
		PowerSettle: 2 * time.Second,
		// The power-up link drops bytes; redundant sends are deliberate.
		ConfigRepeats: 100,
		ConfigSpacing: 10 * time.Millisecond,
		AckOuter:      6 * time.Second,
		AckInner:      3 * time.Second,
		AckWakePause:  500 * time.Millisecond,
	}
}

// Receiver is the positioning receiver driver. Safe for concurrent use; the
// ingestion goroutine is the only writer to the latest-fix slot.
type Receiver struct {
	cfg  config.GPSConfig
	pin  gpio.Pin
	open serial.Opener
	log  *logrus.Logger
	tm   timings

	mu   sync.Mutex
	port serial.Port
	done chan struct{}
	wg   sync.WaitGroup

	fixMu  sync.Mutex
	latest *Fix
}

// New returns an uninitialized receiver. The power pin and serial opener are
// injected so tests can run against fakes.
func New(cfg config.GPSConfig, pin gpio.Pin, open serial.Opener, log *logrus.Logger) *Receiver {
	return &Receiver{cfg: cfg, pin: pin, open: open, log: log, tm: defaultTimings()}
}

// Initialize powers the receiver from a known cold state, configures it and
// starts fix ingestion. A receiver that is already running returns
// ErrAlreadyInitialized.
func (r *Receiver) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port != nil {
		return ErrAlreadyInitialized
	}

	r.log.Info("Initializing GPS...")
	if err := r.pin.SetDirection(gpio.Out); err != nil {
		return fmt.Errorf("gps: configure power pin: %w", err)
	}

	on, err := r.isOn()
	if err != nil {
		return fmt.Errorf("gps: read power state: %w", err)
	}
	if on {
		r.log.Infof("GPS is on, turning off for %s for stability", r.tm.PowerSettle)
		if err := r.turnOff(); err != nil {
			return fmt.Errorf("gps: power cycle: %w", err)
		}
		time.Sleep(r.tm.PowerSettle)
	}

	r.log.Info("Turning GPS on...")
	if err := r.turnOn(); err != nil {
		return fmt.Errorf("gps: power on: %w", err)
	}
	r.log.Info("GPS on.")

	r.log.Infof("Starting serial connection on %s at %d baud...", r.cfg.UART, r.cfg.Baud)
	port, err := r.open(r.cfg.UART, r.cfg.Baud)
	if err != nil {
		return fmt.Errorf("gps: open serial: %w", err)
	}
	r.log.Info("Serial connection started.")

	r.log.Info("Sending configuration frames...")
	for _, frame := range configFrames() {
		for i := 0; i < r.tm.ConfigRepeats; i++ {
			if _, err := port.Write(frame); err != nil {
				_ = port.Close()
				return fmt.Errorf("gps: send configuration frame: %w", err)
			}
			time.Sleep(r.tm.ConfigSpacing)
		}
		r.log.Debugf("Sent configuration frame: % X", frame)
	}
	r.log.Info("Configuration frames sent.")

	// Best effort: fixes still work in the default platform model, the
	// solution filter just distrusts high ascent rates.
	r.log.Info("Setting GPS to airborne (<1g) mode")
	if err := r.enterAirborne1gMode(port); err != nil {
		r.log.Warnf("GPS failed to enter airborne (<1g) mode: %v", err)
	} else {
		r.log.Info("GPS entered airborne (<1g) mode successfully")
	}

	r.port = port
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.ingest(port, r.done)

	return nil
}

// enterAirborne1gMode sends the CFG-NAV5 frame and waits for its ACK with
// two nested deadlines: an outer total budget, and an inner per-attempt scan
// window after each resend.
func (r *Receiver) enterAirborne1gMode(port serial.Port) error {
	ack := ubxAckFor(ubxClassCfg, ubxIDCfgNav5)

	outer := time.Now()
	for time.Since(outer) < r.tm.AckOuter {
		if err := port.Flush(); err != nil {
			return fmt.Errorf("gps: flush before resend: %w", err)
		}
		// Wake byte, then a pause, then the frame.
		if _, err := port.Write([]byte{0xFF}); err != nil {
			return fmt.Errorf("gps: send wake byte: %w", err)
		}
		time.Sleep(r.tm.AckWakePause)
		if _, err := port.Write(cfgNav5Airborne); err != nil {
			return fmt.Errorf("gps: send CFG-NAV5: %w", err)
		}

		matched := 0
		attempt := time.Now()
		for time.Since(attempt) < r.tm.AckInner {
			b, err := port.ReadByte()
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			if err != nil {
				return fmt.Errorf("gps: read ACK: %w", err)
			}
			if b == ack[matched] {
				matched++
			} else {
				// A byte that breaks a partial match can still start a
				// fresh one.
				matched = 0
				if b == ack[0] {
					matched = 1
				}
			}
			if matched == len(ack) {
				return nil
			}
		}
	}

	return ErrAckTimeout
}

// ingest reads NMEA sentences and maintains the latest-fix slot. Last write
// wins: an Active epoch overwrites the slot, a Void epoch clears it.
func (r *Receiver) ingest(port serial.Port, done chan struct{}) {
	defer r.wg.Done()

	var st fixState
	line := make([]byte, 0, 128)
	for {
		select {
		case <-done:
			return
		default:
		}

		b, err := port.ReadByte()
		if errors.Is(err, serial.ErrTimeout) {
			continue
		}
		if err != nil {
			select {
			case <-done:
				// Close() pulled the port out from under us.
			default:
				r.log.Warnf("GPS ingestion stopped: %v", err)
			}
			return
		}
		if b != '\n' {
			if b != '\r' && len(line) < 512 {
				line = append(line, b)
			}
			continue
		}

		text := string(line)
		line = line[:0]
		if text == "" {
			continue
		}
		r.log.Debugf("Received frame: %s", text)

		sent, err := parseNMEASentence(text)
		if err != nil {
			// Power-up noise is common; don't spam above debug.
			r.log.Debugf("Discarding frame: %v", err)
			continue
		}
		publish, err := st.apply(sent)
		if err != nil {
			r.log.Warnf("Invalid frame: %v", err)
			continue
		}
		if !publish {
			continue
		}

		r.fixMu.Lock()
		if st.fix.Status == Active {
			fix := st.fix
			r.latest = &fix
		} else {
			r.latest = nil
		}
		r.fixMu.Unlock()
	}
}

// LatestData returns a copy of the latest valid fix without blocking. The
// second return is false when no valid fix is held.
func (r *Receiver) LatestData() (Fix, bool) {
	r.fixMu.Lock()
	defer r.fixMu.Unlock()
	if r.latest == nil {
		return Fix{}, false
	}
	return *r.latest, true
}

// IsOn reports whether the power pin is high.
func (r *Receiver) IsOn() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isOn()
}

// TurnOn powers the receiver. Turning on an already-on receiver only logs a
// warning.
func (r *Receiver) TurnOn() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnOn()
}

// TurnOff cuts receiver power. Turning off an already-off receiver only logs
// a warning.
func (r *Receiver) TurnOff() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnOff()
}

func (r *Receiver) isOn() (bool, error) {
	v, err := r.pin.Value()
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

func (r *Receiver) turnOn() error {
	on, err := r.isOn()
	if err != nil {
		return err
	}
	if on {
		r.log.Warn("Turning on the GPS but it was already on.")
		return nil
	}
	return r.pin.SetValue(1)
}

func (r *Receiver) turnOff() error {
	on, err := r.isOn()
	if err != nil {
		return err
	}
	if !on {
		r.log.Warn("Turning off the GPS but it was already off.")
		return nil
	}
	return r.pin.SetValue(0)
}

// Close stops ingestion, closes the serial session and powers the receiver
// off.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	var err error
	if r.port != nil {
		err = r.port.Close()
		r.port = nil
	}
	r.wg.Wait()
	if offErr := r.turnOff(); err == nil {
		err = offErr
	}
	return err
}
