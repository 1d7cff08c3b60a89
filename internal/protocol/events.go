package protocol

// Event is the name of a realtime event, e.g. "location:update".
type Event string

// Client → server.
const (
	EventLocationUpdate Event = "location:update"
	EventStartTracking  Event = "location:start-tracking"
	EventStopTracking   Event = "location:stop-tracking"
	EventFindNearby     Event = "location:find-nearby"
	EventShare          Event = "location:share"
	EventShareAccept    Event = "location:share-accept"
	EventShareReject    Event = "location:share-reject"
)

// Server → client.
const (
	EventSelfUpdate      Event = "location:self-update"
	EventNearbyUsers     Event = "location:nearby-users"
	EventTrackingStarted Event = "location:tracking-started"
	EventTrackingStopped Event = "location:tracking-stopped"
	EventLocationError   Event = "location:error"
	EventShareRequest    Event = "location:share-request"
	EventShareAccepted   Event = "location:share-accepted"
	EventShareRejected   Event = "location:share-rejected"
	EventShareExpired    Event = "location:share-expired"
	EventSharedUpdate    Event = "location:shared-update"

	EventOrderStatusUpdate Event = "order:status-update"
	EventOrderNew          Event = "order:new"
	EventPaymentUpdate     Event = "payment:update"
)

// Direction tells which side of the connection emits an event.
type Direction int

const (
	Outbound Direction = iota + 1 // client → server
	Inbound                       // server → client
)

type spec struct {
	dir     Direction
	payload func() Payload
}

var registry = map[Event]spec{
	EventLocationUpdate: {Outbound, func() Payload { return &Sample{} }},
	EventStartTracking:  {Outbound, func() Payload { return &Empty{} }},
	EventStopTracking:   {Outbound, func() Payload { return &Empty{} }},
	EventFindNearby:     {Outbound, func() Payload { return &FindNearby{} }},
	EventShare:          {Outbound, func() Payload { return &Share{} }},
	EventShareAccept:    {Outbound, func() Payload { return &ShareAnswer{} }},
	EventShareReject:    {Outbound, func() Payload { return &ShareAnswer{} }},

	EventSelfUpdate:      {Inbound, func() Payload { return &Sample{} }},
	EventNearbyUsers:     {Inbound, func() Payload { return &NearbyUsers{} }},
	EventTrackingStarted: {Inbound, func() Payload { return &Notice{} }},
	EventTrackingStopped: {Inbound, func() Payload { return &Notice{} }},
	EventLocationError:   {Inbound, func() Payload { return &Notice{} }},
	EventShareRequest:    {Inbound, func() Payload { return &ShareRequest{} }},
	EventShareAccepted:   {Inbound, func() Payload { return &ShareResponse{} }},
	EventShareRejected:   {Inbound, func() Payload { return &ShareResponse{} }},
	EventShareExpired:    {Inbound, func() Payload { return &ShareExpired{} }},
	EventSharedUpdate:    {Inbound, func() Payload { return &SharedUpdate{} }},

	EventOrderStatusUpdate: {Inbound, func() Payload { return &OrderEvent{} }},
	EventOrderNew:          {Inbound, func() Payload { return &OrderEvent{} }},
	EventPaymentUpdate:     {Inbound, func() Payload { return &OrderEvent{} }},
}

// Known reports whether e belongs to the protocol.
func (e Event) Known() bool {
	_, ok := registry[e]
	return ok
}

// Direction returns who emits e, or 0 for unknown events.
func (e Event) Direction() Direction {
	return registry[e].dir
}

// AdminOnly reports whether e is delivered to admin identities only.
func (e Event) AdminOnly() bool {
	return e == EventOrderNew
}

func (e Event) String() string { return string(e) }
