// Package fona drives the GSM modem over an AT command session: power
// sequencing through the power key, SMS transmission, network-assisted
// location lookup and battery telemetry.
package fona

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"stratoprobe/internal/config"
	"stratoprobe/internal/gpio"
	"stratoprobe/internal/serial"
)

// maxSMSLen is the single-SMS character limit in GSM text mode.
const maxSMSLen = 160

var (
	// ErrPowerOn means the modem stayed off after pulsing the power key.
	ErrPowerOn = errors.New("fona: the modem did not turn on")
	// ErrInit means the final AT liveness check did not answer OK.
	ErrInit = errors.New("fona: initialization liveness check failed")
	// ErrEchoOff means ATE0 was not acknowledged.
	ErrEchoOff = errors.New("fona: could not turn command echo off")
	// ErrNoSerial means a command was attempted without an open session.
	ErrNoSerial = errors.New("fona: no open serial session")
	// ErrSerialEnd means the serial stream ended mid-exchange.
	ErrSerialEnd = errors.New("fona: unexpected end of serial stream")
	// ErrCommandEcho means unexpected output followed a command write.
	ErrCommandEcho = errors.New("fona: unflushed output after command")

	// ErrSMSLength rejects messages over the single-SMS limit.
	ErrSMSLength = errors.New("fona: SMS is longer than the 160 character limit")
	// ErrSMSTextMode means AT+CMGF=1 failed.
	ErrSMSTextMode = errors.New("fona: error setting SMS text mode")
	// ErrSMSPrompt means the send command did not produce the "> " prompt.
	ErrSMSPrompt = errors.New("fona: no prompt after SMS send command")
	// ErrSMSReference means the +CMGS reference line did not arrive.
	ErrSMSReference = errors.New("fona: error reading +CMGS response after sending SMS")
	// ErrSMSConfirm means the final OK after the SMS body did not arrive.
	ErrSMSConfirm = errors.New("fona: no OK received after sending SMS")

	// ErrLocTextMode means the location sequence failed at AT+CMGF=1.
	ErrLocTextMode = errors.New("fona: location failed setting text mode")
	// ErrGPRSAttach means AT+CGATT=1 failed.
	ErrGPRSAttach = errors.New("fona: error attaching GPRS")
	// ErrGPRSContype means setting the GPRS bearer type failed.
	ErrGPRSContype = errors.New("fona: error setting GPRS bearer type")
	// ErrGPRSAPN means setting the bearer APN failed.
	ErrGPRSAPN = errors.New("fona: error setting GPRS APN")
	// ErrGPRSOpen means opening the GPRS bearer failed.
	ErrGPRSOpen = errors.New("fona: error opening GPRS bearer")
	// ErrLocationQuery means the location query itself failed.
	ErrLocationQuery = errors.New("fona: error on location query response")
	// ErrGPRSDown means the GPRS teardown failed, possibly leaving the
	// bearer attached.
	ErrGPRSDown = errors.New("fona: error turning GPRS down")
	// ErrLocationLongitude means the longitude field was missing or invalid.
	ErrLocationLongitude = errors.New("fona: invalid longitude in location response")
	// ErrLocationLatitude means the latitude field was missing or invalid.
	ErrLocationLatitude = errors.New("fona: invalid latitude in location response")

	// ErrBatteryResponse means AT+CBC answered something unexpected.
	ErrBatteryResponse = errors.New("fona: invalid response to AT+CBC")
	// ErrADCResponse means AT+CADC? answered something unexpected.
	ErrADCResponse = errors.New("fona: invalid response to AT+CADC?")
)

// PartialResponseError reports a reply that went quiet mid-line. It carries
// whatever was accumulated so operators can tell a half-dead link from a
// dead one.
type PartialResponseError struct {
	Partial string
}

func (e *PartialResponseError) Error() string {
	return fmt.Sprintf("fona: partial response: %q", e.Partial)
}

// Location is a network-assisted position estimate. Produced on demand,
// never cached.
type Location struct {
	// Latitude in degrees.
	Latitude float64
	// Longitude in degrees.
	Longitude float64
}

type timings struct {
	RebootSettle time.Duration
	PowerPulse   time.Duration
	PowerSettle  time.Duration
	WarmupDelay  time.Duration
}

func defaultTimings() timings {
	return timings{
		RebootSettle: 3 * time.Second,
		PowerPulse:   2 * time.Second,
		PowerSettle:  3 * time.Second,
		WarmupDelay:  100 * time.Millisecond,
	}
}

// Fona is the modem driver. It holds at most one open serial session and is
// safe for concurrent use.
type Fona struct {
	cfg       config.FonaConfig
	bat       config.BatteryConfig
	powerPin  gpio.Pin
	statusPin gpio.Pin
	open      serial.Opener
	log       *logrus.Logger
	tm        timings

	mu   sync.Mutex
	port serial.Port
}

// New returns an uninitialized modem driver. Pins and the serial opener are
// injected so tests can run against fakes.
func New(cfg config.FonaConfig, bat config.BatteryConfig, powerPin, statusPin gpio.Pin, open serial.Opener, log *logrus.Logger) *Fona {
	return &Fona{cfg: cfg, bat: bat, powerPin: powerPin, statusPin: statusPin, open: open, log: log, tm: defaultTimings()}
}

// Initialize power-cycles the modem into a known state, opens the session,
// verifies liveness and disables command echo.
func (f *Fona) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Re-initialization (safe-mode recovery) drops the stale session first.
	f.closeSession()

	if err := f.powerPin.SetDirection(gpio.Out); err != nil {
		return fmt.Errorf("fona: configure power pin: %w", err)
	}
	if err := f.statusPin.SetDirection(gpio.In); err != nil {
		return fmt.Errorf("fona: configure status pin: %w", err)
	}

	on, err := f.isOn()
	if err != nil {
		return fmt.Errorf("fona: read power state: %w", err)
	}
	if on {
		f.log.Info("FONA module is on, rebooting for stability.")
		if err := f.turnOff(); err != nil {
			return fmt.Errorf("fona: power cycle: %w", err)
		}
		f.log.Infof("Module is off, sleeping %s before turning it on...", f.tm.RebootSettle)
		time.Sleep(f.tm.RebootSettle)
	}

	if err := f.turnOn(); err != nil {
		return fmt.Errorf("fona: power on: %w", err)
	}
	on, err = f.isOn()
	if err != nil {
		return fmt.Errorf("fona: read power state: %w", err)
	}
	if !on {
		return ErrPowerOn
	}

	f.log.Info("Starting serial connection.")
	port, err := f.open(f.cfg.UART, f.cfg.Baud)
	if err != nil {
		return fmt.Errorf("fona: open serial: %w", err)
	}
	f.port = port
	f.log.Info("Serial connection started.")

	f.log.Info("Checking OK initialization (3 times).")
	for i := 0; i < 2; i++ {
		if resp, err := f.sendCommandRead("AT"); err != nil || resp != "OK" {
			f.log.Info("Not initialized.")
		}
		time.Sleep(f.tm.WarmupDelay)
	}

	resp, err := f.sendCommandRead("AT")
	if err != nil {
		f.closeSession()
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	if resp != "OK" {
		f.closeSession()
		return fmt.Errorf("%w: got %q", ErrInit, resp)
	}
	time.Sleep(f.tm.WarmupDelay)
	f.log.Info("Initialization OK.")

	// Turn off echo. The first ATE0 is still echoed; only the second reply
	// is meaningful.
	if _, err := f.sendCommandRead("ATE0"); err != nil {
		f.closeSession()
		return fmt.Errorf("%w: %w", ErrEchoOff, err)
	}
	time.Sleep(f.tm.WarmupDelay)

	resp, err = f.sendCommandRead("ATE0")
	if err != nil {
		f.closeSession()
		return fmt.Errorf("%w: %w", ErrEchoOff, err)
	}
	if resp != "OK" {
		f.closeSession()
		return fmt.Errorf("%w: got %q", ErrEchoOff, resp)
	}
	return nil
}

// IsOn reports whether the modem status pin is high.
func (f *Fona) IsOn() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isOn()
}

// TurnOn pulses the power key when the modem is off; a warning otherwise.
func (f *Fona) TurnOn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turnOn()
}

// TurnOff pulses the power key when the modem is on; a warning otherwise.
func (f *Fona) TurnOff() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turnOff()
}

// SendSMS sends a text message to the configured recovery phone number.
func (f *Fona) SendSMS(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := utf8.RuneCountInString(message)
	f.log.Infof("Sending SMS: %q (%d characters) to number %s", message, count, f.cfg.SMSPhone)

	if count > maxSMSLen {
		return ErrSMSLength
	}

	if resp, err := f.sendCommandRead("AT+CMGF=1"); err != nil {
		return fmt.Errorf("%w: %w", ErrSMSTextMode, err)
	} else if resp != "OK" {
		return fmt.Errorf("%w: got %q", ErrSMSTextMode, resp)
	}

	cmgs := fmt.Sprintf("AT+CMGS=%q", f.cfg.SMSPhone)
	// The prompt is exactly "> ", read as two raw bytes, not a line.
	if resp, err := f.sendCommandReadLimit(cmgs, 2); err != nil {
		return fmt.Errorf("%w: %w", ErrSMSPrompt, err)
	} else if resp != "> " {
		return fmt.Errorf("%w: got %q", ErrSMSPrompt, resp)
	}

	if f.port == nil {
		return ErrNoSerial
	}
	f.log.Debug("Sending message...")
	if _, err := f.port.Write([]byte(message)); err != nil {
		return fmt.Errorf("fona: write SMS body: %w", err)
	}
	// Ctrl+Z terminates the body; no CRLF after it.
	if _, err := f.port.Write([]byte{0x1A}); err != nil {
		return fmt.Errorf("fona: write Ctrl+Z: %w", err)
	}
	f.log.Debug("Sent Ctrl+Z")

	line, err := f.readLine()
	if err != nil {
		return fmt.Errorf("fona: read SMS response: %w", err)
	}
	if line != "" {
		f.log.Warnf("There was some non-flushed output after sending the message: %q", line)
	}

	resp, err := f.readLine()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSMSReference, err)
	}
	if !strings.HasPrefix(resp, "+CMGS: ") {
		return fmt.Errorf("%w: read %q", ErrSMSReference, resp)
	}

	line, err = f.readLine()
	if err != nil {
		return fmt.Errorf("fona: read SMS response: %w", err)
	}
	if line != "" {
		f.log.Warnf("There was some non-flushed output after sending the message: %q", line)
	}

	ok, err := f.readLine()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSMSConfirm, err)
	}
	if ok != "OK" {
		return fmt.Errorf("%w: received %q", ErrSMSConfirm, ok)
	}

	f.log.Info("SMS sent.")
	return nil
}

// Location performs the network-assisted location lookup over GPRS. A
// failure after the bearer work starts tears GPRS down; a teardown failure
// is joined to the original error so operators can tell "feature
// unavailable" from "left GPRS attached".
func (f *Fona) Location() (Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if resp, err := f.sendCommandRead("AT+CMGF=1"); err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrLocTextMode, err)
	} else if resp != "OK" {
		return Location{}, fmt.Errorf("%w: got %q", ErrLocTextMode, resp)
	}

	steps := []struct {
		cmd string
		err error
	}{
		{"AT+CGATT=1", ErrGPRSAttach},
		{`AT+SAPBR=3,1,"CONTYPE","GPRS"`, ErrGPRSContype},
		{fmt.Sprintf(`AT+SAPBR=3,1,"APN",%q`, f.cfg.LocationService), ErrGPRSAPN},
		{"AT+SAPBR=1,1", ErrGPRSOpen},
	}
	for _, step := range steps {
		resp, err := f.sendCommandRead(step.cmd)
		if err != nil {
			return Location{}, f.failWithGPRSDown(fmt.Errorf("%w: %w", step.err, err))
		}
		if resp != "OK" {
			f.log.Errorf("Error getting location on %q response.", step.cmd)
			return Location{}, f.failWithGPRSDown(step.err)
		}
	}

	resp, err := f.sendCommandRead("AT+CIPGSMLOC=1,1")
	if err != nil {
		return Location{}, f.failWithGPRSDown(fmt.Errorf("%w: %w", ErrLocationQuery, err))
	}
	loc, err := parseLocation(resp)
	if err != nil {
		return Location{}, f.failWithGPRSDown(err)
	}

	ok, err := f.readLine()
	if err != nil || ok != "OK" {
		f.log.Error("Error getting location on `AT+CIPGSMLOC=1,1` response.")
		return Location{}, f.failWithGPRSDown(ErrLocationQuery)
	}

	if err := f.gprsDown(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// parseLocation splits the +CIPGSMLOC reply on commas. The modem reports
// longitude before latitude (fields 2 and 3).
func parseLocation(resp string) (Location, error) {
	fields := strings.Split(resp, ",")
	if len(fields) < 3 {
		return Location{}, fmt.Errorf("%w: %q", ErrLocationLongitude, resp)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrLocationLongitude, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrLocationLatitude, err)
	}
	return Location{Latitude: lat, Longitude: lon}, nil
}

// failWithGPRSDown tears the bearer down after a failed location step. When
// the teardown itself fails both causes are reported.
func (f *Fona) failWithGPRSDown(stepErr error) error {
	if err := f.gprsDown(); err != nil {
		return errors.Join(stepErr, err)
	}
	return stepErr
}

func (f *Fona) gprsDown() error {
	resp, err := f.sendCommandRead("AT+SAPBR=0,1")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGPRSDown, err)
	}
	if resp != "OK" {
		f.log.Error("Error turning GPRS down.")
		return fmt.Errorf("%w: got %q", ErrGPRSDown, resp)
	}
	f.log.Info("GPRS off.")
	return nil
}

// BatteryPercent reports the modem battery charge as a fraction of its
// configured voltage window. Below-window readings go negative, which
// callers treat as "disconnected".
func (f *Fona) BatteryPercent() (float64, error) {
	v, err := f.BatteryVoltage()
	if err != nil {
		return 0, err
	}
	return (v - f.bat.FonaMinV) / (f.bat.FonaMaxV - f.bat.FonaMinV), nil
}

// BatteryVoltage reads the modem battery voltage, in volts.
func (f *Fona) BatteryVoltage() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp, err := f.sendCommandRead("AT+CBC")
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBatteryResponse, err)
	}
	// +CBC: <charging>,<percent>,<millivolts>
	if !strings.HasPrefix(resp, "+CBC: ") {
		return 0, fmt.Errorf("%w: got %q", ErrBatteryResponse, resp)
	}
	fields := strings.Split(strings.TrimPrefix(resp, "+CBC: "), ",")
	if len(fields) < 3 {
		return 0, fmt.Errorf("%w: got %q", ErrBatteryResponse, resp)
	}
	mv, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBatteryResponse, err)
	}
	return mv / 1000, nil
}

// ADCVoltage reads the modem's analog-digital converter, in volts. The main
// battery divider hangs off this input.
func (f *Fona) ADCVoltage() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp, err := f.sendCommandRead("AT+CADC?")
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrADCResponse, err)
	}
	// +CADC: <status>,<millivolts>
	if !strings.HasPrefix(resp, "+CADC: ") {
		return 0, fmt.Errorf("%w: got %q", ErrADCResponse, resp)
	}
	fields := strings.Split(strings.TrimPrefix(resp, "+CADC: "), ",")
	if len(fields) < 2 || strings.TrimSpace(fields[0]) != "1" {
		return 0, fmt.Errorf("%w: got %q", ErrADCResponse, resp)
	}
	mv, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrADCResponse, err)
	}
	return mv / 1000, nil
}

// HasConnectivity reports whether the modem is registered on the home
// network or roaming.
func (f *Fona) HasConnectivity() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp, err := f.sendCommandRead("AT+CREG?")
	if err != nil {
		return false, fmt.Errorf("fona: registration query: %w", err)
	}
	return resp == "+CREG: 0,1" || resp == "+CREG: 0,5", nil
}

// Close powers the modem off and drops the serial session.
func (f *Fona) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if on, onErr := f.isOn(); onErr == nil && on {
		err = f.turnOff()
	} else if onErr != nil {
		err = onErr
	}
	f.closeSession()
	return err
}

func (f *Fona) closeSession() {
	if f.port != nil {
		_ = f.port.Close()
		f.port = nil
	}
}

func (f *Fona) isOn() (bool, error) {
	v, err := f.statusPin.Value()
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// pulsePowerKey toggles the modem's power state: key low, hold, key high,
// then a settle wait.
func (f *Fona) pulsePowerKey() error {
	if err := f.powerPin.SetValue(0); err != nil {
		return err
	}
	time.Sleep(f.tm.PowerPulse)
	if err := f.powerPin.SetValue(1); err != nil {
		return err
	}
	time.Sleep(f.tm.PowerSettle)
	return nil
}

func (f *Fona) turnOn() error {
	on, err := f.isOn()
	if err != nil {
		return err
	}
	if on {
		f.log.Warn("Trying to turn FONA on but it was already on.")
		return nil
	}
	f.log.Info("Turning FONA on...")
	if err := f.pulsePowerKey(); err != nil {
		return err
	}
	f.log.Info("FONA on.")
	return nil
}

func (f *Fona) turnOff() error {
	on, err := f.isOn()
	if err != nil {
		return err
	}
	if !on {
		f.log.Warn("Trying to turn FONA off but it was already off.")
		return nil
	}
	f.log.Info("Turning FONA off...")
	if err := f.pulsePowerKey(); err != nil {
		return err
	}
	f.log.Info("FONA off.")
	return nil
}

// sendCommandRead sends a command and reads the single response line.
func (f *Fona) sendCommandRead(command string) (string, error) {
	if err := f.sendCommand(command); err != nil {
		return "", err
	}
	return f.readLine()
}

// sendCommandReadLimit sends a command and reads exactly count raw bytes.
// Used for the SMS prompt, which is not line-terminated.
func (f *Fona) sendCommandReadLimit(command string, count int) (string, error) {
	if err := f.sendCommand(command); err != nil {
		return "", err
	}
	if f.port == nil {
		return "", ErrNoSerial
	}

	response := make([]byte, 0, count)
	for len(response) < count {
		b, err := f.port.ReadByte()
		if errors.Is(err, serial.ErrTimeout) {
			return "", &PartialResponseError{Partial: string(response)}
		}
		if errors.Is(err, io.EOF) {
			return "", ErrSerialEnd
		}
		if err != nil {
			return "", fmt.Errorf("fona: read response: %w", err)
		}
		response = append(response, b)
	}
	res := string(response)
	f.log.Debugf("Received: %q", res)
	return res, nil
}

// sendCommand writes the command plus CRLF, then verifies the immediate
// flush line is empty.
func (f *Fona) sendCommand(command string) error {
	if f.port == nil {
		f.log.Errorf("No serial when trying to send command %q", command)
		return ErrNoSerial
	}

	f.log.Debugf("Sent command: %q", command+"\r\n")
	if _, err := f.port.Write([]byte(command)); err != nil {
		return fmt.Errorf("fona: write command: %w", err)
	}
	if _, err := f.port.Write([]byte("\r\n")); err != nil {
		return fmt.Errorf("fona: write command terminator: %w", err)
	}

	line, err := f.readLine()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommandEcho, err)
	}
	if line != "" {
		return fmt.Errorf("%w: got %q", ErrCommandEcho, line)
	}
	return nil
}

// readLine accumulates bytes until LF, discarding CR. A timeout mid-line is
// reported as a PartialResponseError carrying the accumulated text.
func (f *Fona) readLine() (string, error) {
	if f.port == nil {
		f.log.Error("No serial when trying to read response")
		return "", ErrNoSerial
	}

	var response []byte
	for {
		b, err := f.port.ReadByte()
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				partial := string(response)
				f.log.Debugf("Received (partial): %q", partial)
				return "", &PartialResponseError{Partial: partial}
			}
			if errors.Is(err, io.EOF) {
				return "", ErrSerialEnd
			}
			return "", fmt.Errorf("fona: read line: %w", err)
		}
		switch b {
		case '\r':
		case '\n':
			res := string(response)
			f.log.Debugf("Received: %q", res)
			return res, nil
		default:
			response = append(response, b)
		}
	}
}
