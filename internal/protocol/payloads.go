package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// Payload is the body of one event. Validate enforces the schema.
type Payload interface {
	Validate() error
}

// Sample is one timestamped positioning reading. Timestamp is in
// milliseconds since the Unix epoch.
type Sample struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

func (s Sample) Validate() error {
	if err := validateCoordinates(s.Latitude, s.Longitude); err != nil {
		return err
	}
	if s.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", ErrInvalidPayload)
	}
	return nil
}

// Empty is the payload of events that carry no data.
type Empty struct{}

func (Empty) Validate() error { return nil }

// FindNearby asks for users within Radius meters of the given point.
type FindNearby struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

func (f FindNearby) Validate() error {
	if err := validateCoordinates(f.Latitude, f.Longitude); err != nil {
		return err
	}
	if !(f.Radius > 0) || math.IsInf(f.Radius, 0) {
		return fmt.Errorf("%w: radius must be positive", ErrInvalidPayload)
	}
	return nil
}

// Share starts a sharing request. Duration is in minutes.
type Share struct {
	TargetUserID string `json:"targetUserId"`
	Duration     int    `json:"duration"`
}

func (s Share) Validate() error {
	if s.TargetUserID == "" {
		return fmt.Errorf("%w: targetUserId is required", ErrInvalidPayload)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidPayload)
	}
	return nil
}

// ShareAnswer is the target's explicit accept or reject of a request.
type ShareAnswer struct {
	FromUserID string `json:"fromUserId"`
	RoomID     string `json:"roomId"`
}

func (a ShareAnswer) Validate() error {
	if a.FromUserID == "" || a.RoomID == "" {
		return fmt.Errorf("%w: fromUserId and roomId are required", ErrInvalidPayload)
	}
	return nil
}

// Identity is the public summary of a user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// NearbyUser is another user's latest position as seen by the server.
type NearbyUser struct {
	UserID         string   `json:"userId"`
	User           Identity `json:"user"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	DistanceMeters float64  `json:"distance"`
	LastUpdated    int64    `json:"lastUpdated"`
}

// NearbyUsers answers a FindNearby query.
type NearbyUsers struct {
	Users []NearbyUser `json:"users"`
}

func (n NearbyUsers) Validate() error {
	for i, u := range n.Users {
		if u.UserID == "" {
			return fmt.Errorf("%w: users[%d].userId is required", ErrInvalidPayload, i)
		}
		if err := validateCoordinates(u.Latitude, u.Longitude); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}
	return nil
}

// Notice carries a human-readable message.
type Notice struct {
	Message string `json:"message"`
}

func (n Notice) Validate() error {
	if n.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidPayload)
	}
	return nil
}

// ShareRequest is delivered to the target of a Share.
type ShareRequest struct {
	FromUserID    string `json:"fromUserId"`
	FromUserEmail string `json:"fromUserEmail"`
	Duration      int    `json:"duration"`
	RoomID        string `json:"roomId"`
}

func (r ShareRequest) Validate() error {
	if r.FromUserID == "" || r.RoomID == "" {
		return fmt.Errorf("%w: fromUserId and roomId are required", ErrInvalidPayload)
	}
	if r.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidPayload)
	}
	return nil
}

// ShareResponse tells the initiator how the target answered. ByUserID and
// RoomID are optional; when present they identify the grant exactly.
type ShareResponse struct {
	ByUserEmail string `json:"byUserEmail"`
	ByUserID    string `json:"byUserId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
}

func (r ShareResponse) Validate() error {
	if r.ByUserEmail == "" && r.ByUserID == "" {
		return fmt.Errorf("%w: byUserEmail is required", ErrInvalidPayload)
	}
	return nil
}

// ShareExpired ends an accepted grant. An empty RoomID expires every
// accepted grant of the receiver.
type ShareExpired struct {
	RoomID string `json:"roomId,omitempty"`
}

func (ShareExpired) Validate() error { return nil }

// SharedUpdate relays the counterpart's sample inside an accepted grant.
type SharedUpdate struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Sample Sample `json:"sample"`
}

func (u SharedUpdate) Validate() error {
	if u.RoomID == "" || u.UserID == "" {
		return fmt.Errorf("%w: roomId and userId are required", ErrInvalidPayload)
	}
	return u.Sample.Validate()
}

// OrderEvent is an order or payment notification. Only the order id is
// interpreted here; the full body is kept in Raw for the cache layer.
type OrderEvent struct {
	OrderID string          `json:"orderId"`
	Status  string          `json:"status,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

func (o OrderEvent) Validate() error {
	if o.OrderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrInvalidPayload)
	}
	return nil
}

func validateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidPayload)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidPayload)
	}
	return nil
}
