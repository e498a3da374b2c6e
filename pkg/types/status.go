package types

import "fmt"

// StatusCode is the flight status vocabulary shared with external displays.
type StatusCode int

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

// ReportableStatuses are the codes an oracle may submit.
var ReportableStatuses = []StatusCode{
	StatusOnTime,
	StatusLateAirline,
	StatusLateWeather,
	StatusLateTechnical,
	StatusLateOther,
}

// Reportable reports whether an oracle may submit s.
func (s StatusCode) Reportable() bool {
	switch s {
	case StatusOnTime, StatusLateAirline, StatusLateWeather, StatusLateTechnical, StatusLateOther:
		return true
	default:
		return false
	}
}

// TriggersPayout is true only for airline-caused delays.
func (s StatusCode) TriggersPayout() bool {
	return s == StatusLateAirline
}

func (s StatusCode) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusOnTime:
		return "on_time"
	case StatusLateAirline:
		return "late_airline"
	case StatusLateWeather:
		return "late_weather"
	case StatusLateTechnical:
		return "late_technical"
	case StatusLateOther:
		return "late_other"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}
