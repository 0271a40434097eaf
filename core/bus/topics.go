package bus

// Topic names.
const (
	TopicRequests = "requests"
	TopicTaxi     = "taxi_responses"
	TopicCustomer = "customer_responses"
	TopicMap      = "map_responses"
)

// Topics resolves topic names under an optional prefix.
type Topics struct {
	Prefix string
}

func (t Topics) name(base string) string {
	if t.Prefix == "" {
		return base
	}
	return t.Prefix + "/" + base
}

// Requests is the dispatcher's inbound topic.
func (t Topics) Requests() string { return t.name(TopicRequests) }

// Taxi is the topic carrying dispatcher responses to taxis.
func (t Topics) Taxi() string { return t.name(TopicTaxi) }

// Customer is the topic carrying dispatcher responses to customers.
func (t Topics) Customer() string { return t.name(TopicCustomer) }

// Map is the topic carrying map snapshots.
func (t Topics) Map() string { return t.name(TopicMap) }
