package domain

import "strconv"

// Topic identifies an event-bus topic. The set is closed: every saga message
// is one of the variants below and consumers dispatch on the concrete type,
// never on raw strings.
type Topic string

const (
	TopicBookingCreated          Topic = "booking-created"
	TopicStartPayment            Topic = "start-payment"
	TopicPaymentSucceeded        Topic = "payment-succeeded"
	TopicBookingCanceled         Topic = "booking-canceled"
	TopicBookingValidationFailed Topic = "booking-validation-failed"
	TopicPassengerAdded          Topic = "passenger-added"
	TopicPassengerAddFailed      Topic = "passenger-add-failed"
	TopicRideStatusUpdate        Topic = "ride-status-update"
	TopicRideStatusChanged       Topic = "ride-status-changed"
)

// SagaMessage is one correlated step of the booking saga.
type SagaMessage interface {
	Topic() Topic
	// PartitionKey orders messages for the same booking or ride.
	PartitionKey() string
}

// BookingCreated is emitted by the booking service when a user books a seat.
// UserEmail is carried through so the seat commit can store the passenger's
// notification address without a lookup into the identity service.
type BookingCreated struct {
	BookingID      int64   `json:"bookingId"`
	RideID         int64   `json:"rideId"`
	UserID         int64   `json:"userId"`
	UserEmail      string  `json:"userEmail,omitempty"`
	MeetingPointID int64   `json:"meetingPointId"`
	Price          float64 `json:"price"`
}

func (m BookingCreated) Topic() Topic         { return TopicBookingCreated }
func (m BookingCreated) PartitionKey() string { return strconv.FormatInt(m.BookingID, 10) }

// StartPayment asks the payment service to collect the fare. No seat is held
// yet; the reservation is optimistic and settles at payment confirmation.
type StartPayment struct {
	BookingID int64   `json:"bookingId"`
	Price     float64 `json:"price"`
	RideID    int64   `json:"rideId"`
	UserID    int64   `json:"userId"`
	UserEmail string  `json:"userEmail,omitempty"`
}

func (m StartPayment) Topic() Topic         { return TopicStartPayment }
func (m StartPayment) PartitionKey() string { return strconv.FormatInt(m.BookingID, 10) }

// PaymentSucceeded confirms the fare was collected; the seat is committed on
// receipt.
type PaymentSucceeded struct {
	BookingID int64  `json:"bookingId"`
	RideID    int64  `json:"rideId"`
	UserID    int64  `json:"userId"`
	UserEmail string `json:"userEmail,omitempty"`
}

func (m PaymentSucceeded) Topic() Topic         { return TopicPaymentSucceeded }
func (m PaymentSucceeded) PartitionKey() string { return strconv.FormatInt(m.BookingID, 10) }

// BookingCanceled compensates a booking: any committed seat is released.
type BookingCanceled struct {
	BookingID int64 `json:"bookingId"`
	RideID    int64 `json:"rideId"`
	UserID    int64 `json:"userId"`
}

func (m BookingCanceled) Topic() Topic         { return TopicBookingCanceled }
func (m BookingCanceled) PartitionKey() string { return strconv.FormatInt(m.BookingID, 10) }

// BookingValidationFailed reports a booking rejected before payment started.
type BookingValidationFailed struct {
	BookingID int64  `json:"bookingId"`
	RideID    int64  `json:"rideId"`
	UserID    int64  `json:"userId"`
	Reason    string `json:"reason"`
}

func (m BookingValidationFailed) Topic() Topic         { return TopicBookingValidationFailed }
func (m BookingValidationFailed) PartitionKey() string { return strconv.FormatInt(m.BookingID, 10) }

// PassengerAdded confirms the seat commit.
type PassengerAdded struct {
	BookingID int64 `json:"bookingId"`
	RideID    int64 `json:"rideId"`
	UserID    int64 `json:"userId"`
}

func (m PassengerAdded) Topic() Topic         { return TopicPassengerAdded }
func (m PassengerAdded) PartitionKey() string { return strconv.FormatInt(m.BookingID, 10) }

// PassengerAddFailed reports a seat commit rejected after payment succeeded.
type PassengerAddFailed struct {
	BookingID int64  `json:"bookingId"`
	RideID    int64  `json:"rideId"`
	UserID    int64  `json:"userId"`
	Reason    string `json:"reason"`
}

func (m PassengerAddFailed) Topic() Topic         { return TopicPassengerAddFailed }
func (m PassengerAddFailed) PartitionKey() string { return strconv.FormatInt(m.BookingID, 10) }

// RideStatusUpdate requests a manual status transition.
type RideStatusUpdate struct {
	RideID int64      `json:"rideId"`
	Status RideStatus `json:"status"`
}

func (m RideStatusUpdate) Topic() Topic         { return TopicRideStatusUpdate }
func (m RideStatusUpdate) PartitionKey() string { return strconv.FormatInt(m.RideID, 10) }

// RideStatusChanged announces a successful transition.
type RideStatusChanged struct {
	RideID int64      `json:"rideId"`
	Status RideStatus `json:"status"`
}

func (m RideStatusChanged) Topic() Topic         { return TopicRideStatusChanged }
func (m RideStatusChanged) PartitionKey() string { return strconv.FormatInt(m.RideID, 10) }
