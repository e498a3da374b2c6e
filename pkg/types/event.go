package types

// EventKind is the routing name of a published signal.
type EventKind string

const (
	EventOracleRequest        EventKind = "oracle.request"
	EventOracleRequestExpired EventKind = "oracle.request.expired"
	EventFlightStatus         EventKind = "flight.status"
	EventAirlineRegistered    EventKind = "airline.registered"
	EventInsuranceCredited    EventKind = "insurance.credited"
	EventInsuranceWithdrawn   EventKind = "insurance.withdrawn"
)

// OracleRequestEvent asks every holder of Index to report the flight status.
type OracleRequestEvent struct {
	RequestID string `json:"request_id"`
	Index     uint8  `json:"index"`
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
	FlightKey string `json:"flight_key"`
}

// FlightStatusEvent is emitted once per request when quorum is reached.
type FlightStatusEvent struct {
	RequestID  string     `json:"request_id"`
	Airline    string     `json:"airline"`
	Flight     string     `json:"flight"`
	Timestamp  int64      `json:"timestamp"`
	FlightKey  string     `json:"flight_key"`
	StatusCode StatusCode `json:"status_code"`
}

// OracleRequestExpiredEvent is emitted when an open request ages out without quorum.
type OracleRequestExpiredEvent struct {
	RequestID string `json:"request_id"`
	FlightKey string `json:"flight_key"`
	Index     uint8  `json:"index"`
}

type AirlineRegisteredEvent struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Votes   int    `json:"votes"`
}

// InsuranceEvent reports a credit or a withdrawal on a single policy. Amounts are decimal strings.
type InsuranceEvent struct {
	FlightKey string `json:"flight_key"`
	Passenger string `json:"passenger"`
	Amount    string `json:"amount"`
}
