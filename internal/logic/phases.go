package logic

import (
	"fmt"
	"math"
	"time"

	"stratoprobe/internal/config"
	"stratoprobe/internal/gps"
	"stratoprobe/internal/logs"
)

const (
	// minFixSatellites and maxFixHDOP qualify a fix as stable enough to
	// leave AcquiringFix.
	minFixSatellites = 6
	maxFixHDOP       = 5.0

	// launchAltitudeJumpM above the ground baseline marks launch.
	launchAltitudeJumpM = 100.0

	// burstDropM below the running maximum altitude marks balloon burst.
	burstDropM = 1000.0

	// landedVariationM is the altitude band the probe must stay inside for
	// the landing window to count as landed.
	landedVariationM = 10.0

	ascentReportLowM   = 1500.0
	ascentReportHighM  = 8000.0
	descentReportHighM = 8000.0
	descentReportLowM  = 2500.0
)

func (m *Machine) initPhase() (Phase, error) {
	cfg := m.probe.Config

	free, err := m.freeSpace(cfg.DataDir)
	if err != nil {
		return 0, fmt.Errorf("logic: disk space check: %w", err)
	}
	required := requiredSpace(cfg)
	m.probe.Log.Infof("Disk space: %d MiB free, %d MiB required.", free>>20, required>>20)
	if free < required {
		return 0, fmt.Errorf("%w: %d MiB free, %d MiB required",
			ErrNotEnoughSpace, free>>20, required>>20)
	}

	if m.probe.GPS != nil {
		if err := m.probe.GPS.Initialize(); err != nil {
			return 0, fmt.Errorf("logic: receiver initialization: %w", err)
		}
	}
	if err := m.probe.Modem.Initialize(); err != nil {
		return 0, fmt.Errorf("logic: modem initialization: %w", err)
	}

	if err := m.checkBatteries(); err != nil {
		return 0, err
	}
	if err := m.waitForRegistration(); err != nil {
		return 0, err
	}
	if err := m.probe.Camera.SelfTest(); err != nil {
		return 0, fmt.Errorf("logic: camera self-test: %w", err)
	}

	if m.probe.GPS != nil {
		return AcquiringFix, nil
	}
	return EternalLoop, nil
}

// requiredSpace estimates the footage size for the planned flight, with a
// 20% margin for logs and stills.
func requiredSpace(cfg config.Config) uint64 {
	if cfg.Video.Bitrate == 0 {
		return 2 << 30
	}
	seconds := float64(cfg.Flight.LengthMinutes) * 60
	return uint64(seconds * float64(cfg.Video.Bitrate) / 8 * 1.2)
}

func (m *Machine) checkBatteries() error {
	bat := m.probe.Config.Battery

	mainV, err := m.probe.Modem.ADCVoltage()
	if err != nil {
		return fmt.Errorf("logic: main battery reading: %w", err)
	}
	mainPct := (mainV - bat.MainMinV) / (bat.MainMaxV - bat.MainMinV)

	fonaPct, err := m.probe.Modem.BatteryPercent()
	if err != nil {
		return fmt.Errorf("logic: modem battery reading: %w", err)
	}

	m.probe.Telem.Infof("Batteries: main %.0f%% (%.2f V), GSM %.0f%%.",
		mainPct*100, mainV, fonaPct*100)

	if mainPct < bat.MainMinPercent {
		return fmt.Errorf("%w: main battery at %.0f%%, minimum %.0f%%",
			ErrNotEnoughBattery, mainPct*100, bat.MainMinPercent*100)
	}
	if fonaPct < bat.FonaMinPercent {
		return fmt.Errorf("%w: GSM battery at %.0f%%, minimum %.0f%%",
			ErrNotEnoughBattery, fonaPct*100, bat.FonaMinPercent*100)
	}
	return nil
}

func (m *Machine) waitForRegistration() error {
	deadline := m.now().Add(m.tm.RegistrationMax)
	for {
		ok, err := m.probe.Modem.HasConnectivity()
		if err != nil {
			m.probe.Log.Warnf("Registration query failed: %v", err)
		} else if ok {
			m.probe.Log.Info("GSM network registered.")
			return nil
		}
		if m.now().After(deadline) {
			return ErrNoConnectivity
		}
		m.sleep(m.tm.RegistrationTry)
	}
}

// acquiringFix polls the latest fix until two consecutive readings are
// stable enough to trust.
func (m *Machine) acquiringFix() (Phase, error) {
	good := 0
	for {
		fix, ok := m.probe.GPS.LatestData()
		if ok && fix.Satellites >= minFixSatellites && fix.HDOP < maxFixHDOP {
			good++
			m.logFix(fix)
		} else {
			good = 0
		}
		if good >= 2 {
			m.probe.Log.Info("Fix acquired.")
			return FixAcquired, nil
		}
		m.sleep(m.tm.FixPoll)
	}
}

func (m *Machine) fixAcquired() (Phase, error) {
	fix := m.waitFix()
	msg := fmt.Sprintf("Launch pad: %.6f,%.6f alt %.0f m, %d sats.%s",
		fix.Latitude, fix.Longitude, fix.Altitude, fix.Satellites, m.batterySummary())
	if err := m.probe.Modem.SendSMS(msg); err != nil {
		return 0, fmt.Errorf("logic: launch pad SMS: %w", err)
	}

	name := fmt.Sprintf("flight-%s.h264", m.now().UTC().Format("2006-01-02-15-04-05"))
	if err := m.probe.Camera.Record(0, name); err != nil {
		return 0, fmt.Errorf("logic: start flight recording: %w", err)
	}
	return WaitingLaunch, nil
}

// waitingLaunch baselines the ground altitude and waits for two consecutive
// fixes clearly above it.
func (m *Machine) waitingLaunch() (Phase, error) {
	baseline := m.waitFix().Altitude
	m.probe.Log.Infof("Ground altitude baseline: %.0f m.", baseline)

	above := 0
	for {
		m.sleep(m.tm.FixPoll)
		fix, ok := m.probe.GPS.LatestData()
		if !ok {
			above = 0
			continue
		}
		if fix.Altitude > baseline+launchAltitudeJumpM {
			above++
		} else {
			above = 0
		}
		if above >= 2 {
			m.probe.Log.Infof("Launch detected at %.0f m.", fix.Altitude)
			return GoingUp, nil
		}
	}
}

func (m *Machine) goingUp() (Phase, error) {
	maxAlt := m.waitFix().Altitude
	reportedLow, reportedHigh := false, false
	for {
		fix, ok := m.probe.GPS.LatestData()
		if ok {
			alt := fix.Altitude
			if alt > maxAlt {
				maxAlt = alt
			}
			m.logFix(fix)

			if !reportedLow && alt > ascentReportLowM {
				reportedLow = true
				m.sendTelemetrySMS(fix, "Going up")
			}
			if !reportedHigh && alt > ascentReportHighM {
				reportedHigh = true
				m.sendTelemetrySMS(fix, "Going up")
			}

			ceiling := m.probe.Config.Flight.MaxHeightM
			burst := maxAlt-alt > burstDropM ||
				(ceiling > 0 && maxAlt >= ceiling && alt < maxAlt)
			if burst {
				m.probe.Log.Infof("Balloon burst detected: max %.0f m, now %.0f m.", maxAlt, alt)
				return GoingDown, nil
			}
		}
		m.sleep(m.tm.FixPoll)
	}
}

func (m *Machine) goingDown() (Phase, error) {
	first := m.waitFix()
	refAlt, refTime := first.Altitude, m.now()
	reportedHigh, reportedLow := false, false
	for {
		m.sleep(m.tm.FixPoll)
		fix, ok := m.probe.GPS.LatestData()
		if !ok {
			continue
		}
		alt := fix.Altitude
		m.logFix(fix)

		if !reportedHigh && alt < descentReportHighM {
			reportedHigh = true
			m.sendTelemetrySMS(fix, "Going down")
		}
		if !reportedLow && alt < descentReportLowM {
			reportedLow = true
			m.sendTelemetrySMS(fix, "Going down")
		}

		if math.Abs(alt-refAlt) >= landedVariationM {
			refAlt, refTime = alt, m.now()
		} else if m.now().Sub(refTime) >= m.tm.LandedWindow {
			m.probe.Log.Infof("Landing detected at %.0f m.", alt)
			return Landed, nil
		}
	}
}

func (m *Machine) landed() (Phase, error) {
	if m.probe.Camera.IsRecording() {
		if err := m.probe.Camera.StopRecording(); err != nil {
			m.probe.Log.Warnf("Could not stop recording: %v", err)
		}
	}

	// A still of the landing site helps the recovery team confirm the spot.
	pic := fmt.Sprintf("landing-%s.jpg", m.now().UTC().Format("2006-01-02-15-04-05"))
	if err := m.probe.Camera.TakePicture(pic); err != nil {
		m.probe.Log.Warnf("Landing picture failed: %v", err)
	}

	msg := "Landed. " + m.positionReport() + m.batterySummary()
	if err := m.probe.Modem.SendSMS(msg); err != nil {
		return 0, fmt.Errorf("logic: recovery SMS: %w", err)
	}

	// A second report after the dust settles, in case the probe shifted or
	// the first SMS arrived garbled.
	m.sleep(m.tm.RecoveryWait)
	second := "Landed (confirmation). " + m.positionReport() + m.batterySummary()
	if err := m.probe.Modem.SendSMS(second); err != nil {
		m.probe.Log.Warnf("Second recovery SMS failed: %v", err)
	}
	return ShutDown, nil
}

func (m *Machine) shutDown() error {
	m.probe.Log.Info("Shutting down.")
	if m.probe.Camera != nil && m.probe.Camera.IsRecording() {
		if err := m.probe.Camera.StopRecording(); err != nil {
			m.probe.Log.Warnf("Could not stop recording: %v", err)
		}
	}
	if m.probe.GPS != nil {
		if err := m.probe.GPS.Close(); err != nil {
			m.probe.Log.Warnf("Receiver shutdown: %v", err)
		}
	}
	if err := m.probe.Modem.Close(); err != nil {
		m.probe.Log.Warnf("Modem shutdown: %v", err)
	}

	if m.probe.Config.Debug {
		m.probe.Log.Info("Debug mode: not powering the host off.")
		return nil
	}
	return m.powerOff()
}

// eternalLoop is the no-receiver flight: record indefinitely and report
// battery state periodically until the modem battery runs out.
func (m *Machine) eternalLoop() (Phase, error) {
	name := fmt.Sprintf("flight-%s.h264", m.now().UTC().Format("2006-01-02-15-04-05"))
	if err := m.probe.Camera.Record(0, name); err != nil {
		return 0, fmt.Errorf("logic: start flight recording: %w", err)
	}

	for {
		m.sleep(m.tm.TelemetryPeriod)

		pct, err := m.probe.Modem.BatteryPercent()
		if err != nil {
			m.probe.Log.Warnf("Battery reading failed: %v", err)
			continue
		}
		if err := m.probe.Modem.SendSMS(fmt.Sprintf("Still flying.%s", m.batterySummary())); err != nil {
			m.probe.Log.Warnf("Telemetry SMS failed: %v", err)
		}
		if pct < m.probe.Config.Battery.FonaMinPercent {
			m.probe.Log.Info("GSM battery below minimum, shutting down.")
			return ShutDown, nil
		}
	}
}

// safeMode keeps the recovery channel alive after an unrecoverable failure:
// periodic position reports over whatever still works, shutdown when the
// battery is exhausted or the modem is beyond recovery.
//
// TODO: phase-specific recovery (re-entering the flight graph once
// peripherals come back) needs flight data to tune and is left out.
func (m *Machine) safeMode() (Phase, error) {
	m.probe.Log.Warn("Safe mode entered.")

	failures := 0
	for {
		msg := "Safe mode. " + m.positionReport() + m.batterySummary()
		if err := m.probe.Modem.SendSMS(msg); err != nil {
			failures++
			m.probe.Log.Error(logs.ErrorChain(err, "Safe mode SMS failed"))
			if failures == 3 {
				m.probe.Log.Warn("Attempting modem recovery.")
				if err := m.probe.Modem.Initialize(); err != nil {
					m.probe.Log.Error(logs.ErrorChain(err, "Modem recovery failed"))
				}
			}
			if failures >= 6 {
				m.probe.Log.Error("Modem unrecoverable, shutting down.")
				return ShutDown, nil
			}
		} else {
			failures = 0
		}

		if pct, err := m.probe.Modem.BatteryPercent(); err == nil &&
			pct < m.probe.Config.Battery.FonaMinPercent {
			m.probe.Log.Info("GSM battery below minimum, shutting down.")
			return ShutDown, nil
		}
		m.sleep(m.tm.TelemetryPeriod)
	}
}

// waitFix blocks until the receiver reports a fix.
func (m *Machine) waitFix() gps.Fix {
	for {
		if fix, ok := m.probe.GPS.LatestData(); ok {
			return fix
		}
		m.sleep(m.tm.FixPoll)
	}
}

func (m *Machine) logFix(fix gps.Fix) {
	m.probe.Telem.Infof("%s %.6f,%.6f alt %.1f m sats %d HDOP %.1f speed %.1f m/s course %.1f",
		fix.Time.Format(time.RFC3339), fix.Latitude, fix.Longitude, fix.Altitude,
		fix.Satellites, fix.HDOP, fix.Speed, fix.Course)
}

func (m *Machine) sendTelemetrySMS(fix gps.Fix, stage string) {
	msg := fmt.Sprintf("%s: %.6f,%.6f alt %.0f m.%s",
		stage, fix.Latitude, fix.Longitude, fix.Altitude, m.batterySummary())
	if err := m.probe.Modem.SendSMS(msg); err != nil {
		m.probe.Log.Warnf("Telemetry SMS failed: %v", err)
	}
}

// positionReport prefers the receiver fix and falls back to the
// network-assisted modem location.
func (m *Machine) positionReport() string {
	if m.probe.GPS != nil {
		if fix, ok := m.probe.GPS.LatestData(); ok {
			return fmt.Sprintf("Position: %.6f,%.6f alt %.0f m.", fix.Latitude, fix.Longitude, fix.Altitude)
		}
	}
	if loc, err := m.probe.Modem.Location(); err == nil {
		return fmt.Sprintf("GSM position: %.6f,%.6f.", loc.Latitude, loc.Longitude)
	} else {
		m.probe.Log.Warnf("Network location failed: %v", err)
	}
	return "Position unknown."
}

// batterySummary is a best-effort suffix for outgoing SMS.
func (m *Machine) batterySummary() string {
	pct, err := m.probe.Modem.BatteryPercent()
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" GSM bat %.0f%%.", pct*100)
}
