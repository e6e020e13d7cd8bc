package booking

import "time"

// Booking is a paid reservation binding one fan to one creator's scheduled
// call offer.
//
// Bookings are read-only to the call-session core: they are created by the
// booking/payment subsystem and mutated externally on completion. This model
// carries only the fields the session lifecycle needs.
//
// Access invariant: a booking's call is accessible only within
// [scheduledStart - joinWindow, scheduledStart + duration + grace].
// Test bookings bypass the invariant entirely.
type Booking struct {
	ID     string        `json:"id"`
	Status BookingStatus `json:"status"`

	CallOffer CallOffer `json:"callOffer"`

	// RoomURL is the room/connection descriptor handed to the room provider.
	RoomURL string `json:"roomUrl"`

	// IsTestBooking disables all timing gates. The flag exists specifically to
	// let QA/demo traffic skip the access window and the auto-end.
	IsTestBooking bool `json:"isTestBooking"`
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusCompleted BookingStatus = "COMPLETED"
	StatusCancelled BookingStatus = "CANCELLED"
)

// CallOffer is the creator's scheduled offer the booking reserves.
type CallOffer struct {
	Title string `json:"title"`

	// DateTime is the scheduled start of the call.
	DateTime time.Time `json:"dateTime"`

	// DurationMinutes is the scheduled call length in minutes.
	DurationMinutes int `json:"duration"`
}

// ScheduledEnd is the scheduled start plus the offered duration.
func (b Booking) ScheduledEnd() time.Time {
	return b.CallOffer.DateTime.Add(time.Duration(b.CallOffer.DurationMinutes) * time.Minute)
}

// DurationSeconds is the scheduled call length in seconds, the unit the
// in-call timer counts in.
func (b Booking) DurationSeconds() int {
	return b.CallOffer.DurationMinutes * 60
}
