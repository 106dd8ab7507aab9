package alerts

import (
	"time"

	assets "coldchain-cloud/internal/assets/domain"
	doors "coldchain-cloud/internal/doors/domain"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// SensorFaultTolerance is how long faulty readings must persist before SENSOR_ERROR triggers.
const SensorFaultTolerance = 10 * time.Minute

// SignalKind distinguishes raising a condition from its reversal.
type SignalKind string

const (
	SignalTrigger SignalKind = "trigger"
	SignalClear   SignalKind = "clear"
)

// Signal is the evaluator's output for one alert type.
type Signal struct {
	Type      Type       `json:"type"`
	Kind      SignalKind `json:"kind"`
	At        time.Time  `json:"at"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold"`
}

func triggerSignal(t Type, at time.Time, value, threshold float64) Signal {
	return Signal{Type: t, Kind: SignalTrigger, At: at.UTC(), Value: value, Threshold: threshold}
}

func clearSignal(t Type, at time.Time) Signal {
	return Signal{Type: t, Kind: SignalClear, At: at.UTC()}
}

// ReadingInput is everything the evaluator needs for one reading.
type ReadingInput struct {
	Cell    assets.ColdCell
	Reading telemetry.SensorReading
	// Door is the state before this reading was applied; nil when unknown.
	Door *doors.DoorState
	// DeviceRecovered is true when this reading brought an offline device back.
	DeviceRecovered bool
	// FaultSince is when the current run of faulty readings began, zero if none.
	FaultSince time.Time
}

// Evaluation is the result of evaluating one reading.
type Evaluation struct {
	Signals []Signal
	// FaultSince is the updated start of the faulty-reading run, zero when healthy.
	FaultSince time.Time
	Fault      string
}

// EvaluateReading translates one reading into trigger and clear signals.
// It holds no state; callers persist FaultSince and door state.
func EvaluateReading(in ReadingInput) Evaluation {
	var out Evaluation
	r := in.Reading
	at := r.RecordedAt

	if fault := r.Fault(); fault != "" {
		since := in.FaultSince
		if since.IsZero() || at.Before(since) {
			since = at
		}
		out.Fault = fault
		out.FaultSince = since
		if at.Sub(since) >= SensorFaultTolerance {
			out.Signals = append(out.Signals, triggerSignal(TypeSensorError, since.Add(SensorFaultTolerance), 0, SensorFaultTolerance.Seconds()))
		}
	} else {
		out.Signals = append(out.Signals, clearSignal(TypeSensorError, at))
	}

	if r.TemperatureValid() {
		out.Signals = append(out.Signals, evaluateTemperature(in.Cell, *r.Temperature, at)...)
	}

	if r.DoorOpen != nil {
		out.Signals = append(out.Signals, evaluateDoor(in.Cell, in.Door, *r.DoorOpen, at)...)
	}

	switch {
	case r.PowerOn != nil && !*r.PowerOn:
		out.Signals = append(out.Signals, triggerSignal(TypePowerLoss, at, 0, 0))
	case r.PowerOn != nil || in.DeviceRecovered:
		out.Signals = append(out.Signals, clearSignal(TypePowerLoss, at))
	}
	return out
}

func evaluateTemperature(cell assets.ColdCell, temp float64, at time.Time) []Signal {
	switch {
	case temp > cell.MaxTemp:
		return []Signal{triggerSignal(TypeHighTemp, at, temp, cell.MaxTemp), clearSignal(TypeLowTemp, at)}
	case temp < cell.MinTemp:
		return []Signal{triggerSignal(TypeLowTemp, at, temp, cell.MinTemp), clearSignal(TypeHighTemp, at)}
	default:
		return []Signal{clearSignal(TypeHighTemp, at), clearSignal(TypeLowTemp, at)}
	}
}

func evaluateDoor(cell assets.ColdCell, prev *doors.DoorState, open bool, at time.Time) []Signal {
	delay := cell.DoorAlarmDelay()
	if prev != nil && prev.IsOpen() && !prev.LastChangedAt.IsZero() {
		// The door has been open continuously since LastChangedAt.
		var out []Signal
		expiry := prev.LastChangedAt.Add(delay)
		if !at.Before(expiry) {
			out = append(out, triggerSignal(TypeDoorOpen, expiry, at.Sub(prev.LastChangedAt).Seconds(), delay.Seconds()))
		}
		if !open {
			out = append(out, clearSignal(TypeDoorOpen, at))
		}
		return out
	}
	if !open {
		return []Signal{clearSignal(TypeDoorOpen, at)}
	}
	if delay == 0 {
		return []Signal{triggerSignal(TypeDoorOpen, at, 0, 0)}
	}
	return nil
}

// EvaluateDoorTimer checks a door that is still open without new readings.
func EvaluateDoorTimer(cell assets.ColdCell, door doors.DoorState, now time.Time) []Signal {
	if !door.IsOpen() || door.LastChangedAt.IsZero() {
		return nil
	}
	delay := cell.DoorAlarmDelay()
	expiry := door.LastChangedAt.Add(delay)
	if now.Before(expiry) {
		return nil
	}
	return []Signal{triggerSignal(TypeDoorOpen, expiry, now.Sub(door.LastChangedAt).Seconds(), delay.Seconds())}
}

// EvaluateDeviceOffline is raised when a device missed its heartbeat.
func EvaluateDeviceOffline(device assets.Device, now time.Time) []Signal {
	return []Signal{triggerSignal(TypePowerLoss, now, now.Sub(device.LastSeenAt).Seconds(), device.HeartbeatInterval().Seconds())}
}
