package bus

// Subject identifies the meaning of an envelope.
type Subject int

const (
	SubjectUnknown Subject = iota

	// Taxi and customer requests.
	NewTaxi
	TaxiReconnect
	CustomerJoin
	AskForService
	TaxiMove
	DestinationReached
	TaxiCanMove
	TaxiCantMove
	TaxiCantMoveReminder
	TaxiFatalError
	PingTaxi
	PingCustomer
	TaxiDisconnect
	CustomerDisconnect

	// Operator overrides.
	OrderGoTo
	OrderStop
	OrderContinue

	// Emitted by the dispatcher's stray sweep into its own input.
	StrayTaxi
	StrayCustomer

	// Dispatcher to taxi.
	TaxiGoTo
	TaxiStop
	TaxiContinue
	TaxiChangePosition
	TaxiStartService
	TaxiServiceCompleted

	// Dispatcher to customer.
	CustomerConfirmed
	CustomerRejected
	ServiceAccepted
	ServiceDenied
	PickedUp
	ServiceCompleted
	TaxiStopped
	TaxiResumed
	TaxiDisconnected

	// Dispatcher to map observers.
	MapUpdate
)

var subjectNames = map[Subject]string{
	NewTaxi:              "new_taxi",
	TaxiReconnect:        "taxi_reconnect",
	CustomerJoin:         "customer_join",
	AskForService:        "ask_for_service",
	TaxiMove:             "taxi_move",
	DestinationReached:   "destination_reached",
	TaxiCanMove:          "taxi_can_move",
	TaxiCantMove:         "taxi_cant_move",
	TaxiCantMoveReminder: "taxi_cant_move_reminder",
	TaxiFatalError:       "taxi_fatal_error",
	PingTaxi:             "ping_taxi",
	PingCustomer:         "ping_customer",
	TaxiDisconnect:       "taxi_disconnect",
	CustomerDisconnect:   "customer_disconnect",
	OrderGoTo:            "order_goto",
	OrderStop:            "order_stop",
	OrderContinue:        "order_continue",
	StrayTaxi:            "stray_taxi",
	StrayCustomer:        "stray_customer",
	TaxiGoTo:             "taxi_goto",
	TaxiStop:             "taxi_stop",
	TaxiContinue:         "taxi_continue",
	TaxiChangePosition:   "taxi_change_position",
	TaxiStartService:     "taxi_start_service",
	TaxiServiceCompleted: "taxi_service_completed",
	CustomerConfirmed:    "customer_confirmed",
	CustomerRejected:     "customer_rejected",
	ServiceAccepted:      "service_accepted",
	ServiceDenied:        "service_denied",
	PickedUp:             "picked_up",
	ServiceCompleted:     "service_completed",
	TaxiStopped:          "taxi_stopped",
	TaxiResumed:          "taxi_resumed",
	TaxiDisconnected:     "taxi_disconnected",
	MapUpdate:            "map_update",
}

func (s Subject) String() string {
	if n, ok := subjectNames[s]; ok {
		return n
	}
	return "unknown"
}

// SessionFree reports whether the subject may be accepted without a
// matching session because it is how a sender obtains one.
func (s Subject) SessionFree() bool {
	return s == CustomerJoin
}
