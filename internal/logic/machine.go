package logic

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stratoprobe/internal/config"
	"stratoprobe/internal/fona"
	"stratoprobe/internal/gps"
	"stratoprobe/internal/logs"
)

var (
	// ErrNotEnoughSpace means the data directory cannot hold the planned
	// flight's footage.
	ErrNotEnoughSpace = errors.New("logic: not enough disk space for the flight")
	// ErrNotEnoughBattery means a battery is below its configured minimum.
	ErrNotEnoughBattery = errors.New("logic: not enough battery for the flight")
	// ErrNoConnectivity means the modem never registered on the network.
	ErrNoConnectivity = errors.New("logic: no GSM connectivity")
)

// PositionReceiver is the positioning driver as seen by the state machine.
type PositionReceiver interface {
	Initialize() error
	LatestData() (gps.Fix, bool)
	Close() error
}

// Modem is the GSM driver as seen by the state machine.
type Modem interface {
	Initialize() error
	SendSMS(message string) error
	Location() (fona.Location, error)
	BatteryVoltage() (float64, error)
	BatteryPercent() (float64, error)
	ADCVoltage() (float64, error)
	HasConnectivity() (bool, error)
	Close() error
}

// Recorder is the imaging collaborator as seen by the state machine.
type Recorder interface {
	Record(d time.Duration, filename string) error
	StopRecording() error
	IsRecording() bool
	TakePicture(filename string) error
	SelfTest() error
}

// Probe bundles the drivers and configuration the state machine operates
// on. GPS is nil when no positioning receiver is fitted.
type Probe struct {
	Config config.Config
	GPS    PositionReceiver
	Modem  Modem
	Camera Recorder
	Log    *logrus.Logger
	Telem  *logrus.Logger
}

// timings are the state machine's polling and waiting knobs, shrunk by
// tests.
type machineTimings struct {
	FixPoll         time.Duration
	RegistrationTry time.Duration
	RegistrationMax time.Duration
	LandedWindow    time.Duration
	RecoveryWait    time.Duration
	TelemetryPeriod time.Duration
}

func defaultMachineTimings() machineTimings {
	return machineTimings{
		FixPoll:         time.Second,
		RegistrationTry: 5 * time.Second,
		RegistrationMax: 2 * time.Minute,
		LandedWindow:    time.Minute,
		RecoveryWait:    10 * time.Minute,
		TelemetryPeriod: time.Hour,
	}
}

// Machine runs the flight. It owns the current-phase cell and the persisted
// store; on every transition the cell is updated, the phase persisted, and
// only then the next handler executed.
type Machine struct {
	probe Probe
	store *Store
	tm    machineTimings

	// Overridable for tests and non-Linux builds.
	freeSpace func(path string) (uint64, error)
	powerOff  func() error
	sleep     func(time.Duration)
	now       func() time.Time

	mu      sync.Mutex
	current Phase
}

// NewMachine returns a machine ready to run the probe.
func NewMachine(probe Probe, store *Store) *Machine {
	return &Machine{
		probe:     probe,
		store:     store,
		tm:        defaultMachineTimings(),
		freeSpace: freeSpace,
		powerOff:  powerOffHost,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// PowerOff syncs filesystems and powers the host off. For fatal paths that
// happen before a machine exists.
func PowerOff() error {
	return powerOffHost()
}

// Current reports the phase currently executing.
func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Run drives the flight from the given phase until ShutDown completes. A
// handler's fatal error diverts to SafeMode; a SafeMode failure is returned.
func (m *Machine) Run(start Phase) error {
	phase := start
	for {
		m.mu.Lock()
		m.current = phase
		m.mu.Unlock()
		if err := m.store.Save(phase); err != nil {
			return err
		}

		next, err := m.execute(phase)
		if phase == ShutDown {
			return err
		}
		if err != nil {
			if phase == SafeMode {
				return err
			}
			m.probe.Log.Error(logs.ErrorChain(err, fmt.Sprintf("Phase %s failed, entering safe mode", phase)))
			next = SafeMode
		}
		phase = next
	}
}

// requiresReceiver reports whether the phase only exists in the
// receiver-equipped flight graph.
func requiresReceiver(p Phase) bool {
	switch p {
	case AcquiringFix, FixAcquired, WaitingLaunch, GoingUp, GoingDown, Landed:
		return true
	}
	return false
}

// Resume restarts a flight from a previously persisted phase. Peripherals
// are re-initialized the way Init brings them up (receiver first, then
// modem), then the phase's handler runs from scratch. A persisted phase
// that is not part of the configured graph diverts to SafeMode; a persisted
// ShutDown completes the shutdown without touching the peripherals again.
func (m *Machine) Resume(p Phase) error {
	if p == Init {
		return m.Run(Init)
	}
	if p == ShutDown {
		m.probe.Log.Info("Prior run persisted SHUT_DOWN, completing shutdown.")
		return m.Run(ShutDown)
	}
	if m.probe.GPS == nil && requiresReceiver(p) {
		m.probe.Log.Errorf("Persisted phase %s needs a positioning receiver but none is configured, entering safe mode.", p)
		if err := m.probe.Modem.Initialize(); err != nil {
			m.probe.Log.Error(logs.ErrorChain(err, "Modem re-initialization failed on resume"))
		}
		return m.Run(SafeMode)
	}
	m.probe.Log.Infof("Resuming flight from phase %s.", p)

	if m.probe.GPS != nil {
		if err := m.probe.GPS.Initialize(); err != nil {
			m.probe.Log.Error(logs.ErrorChain(err, "Receiver re-initialization failed on resume"))
			return m.Run(SafeMode)
		}
	}
	if err := m.probe.Modem.Initialize(); err != nil {
		m.probe.Log.Error(logs.ErrorChain(err, "Modem re-initialization failed on resume"))
		return m.Run(SafeMode)
	}
	return m.Run(p)
}

func (m *Machine) execute(p Phase) (Phase, error) {
	m.probe.Log.Infof("Entering phase %s.", p)
	switch p {
	case Init:
		return m.initPhase()
	case AcquiringFix:
		return m.acquiringFix()
	case FixAcquired:
		return m.fixAcquired()
	case WaitingLaunch:
		return m.waitingLaunch()
	case GoingUp:
		return m.goingUp()
	case GoingDown:
		return m.goingDown()
	case Landed:
		return m.landed()
	case ShutDown:
		return ShutDown, m.shutDown()
	case SafeMode:
		return m.safeMode()
	case EternalLoop:
		return m.eternalLoop()
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidPhase, int(p))
	}
}
