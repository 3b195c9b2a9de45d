package model

import "time"

type Role string

const (
	RoleCustomer  Role = "customer"
	RolePerformer Role = "performer"
)

type BookingStatus string

const (
	Pending            BookingStatus = "PENDING"
	WaitingForApproval BookingStatus = "WAITING_FOR_APPROVAL"
	Running            BookingStatus = "RUNNING"
	Completed          BookingStatus = "COMPLETED"
)

// AllowedAction — что текущий пользователь может сделать с заказом в списке
type AllowedAction string

const (
	CanTake     AllowedAction = "can_take"
	CanView     AllowedAction = "can_view"
	CanApprove  AllowedAction = "can_approve"
	CanComplete AllowedAction = "can_complete"
	NotActive   AllowedAction = "not_active"
)

type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
	Role  Role   `json:"role"`
}

type Account struct {
	UserID  int     `json:"user_id"`
	Balance float64 `json:"balance"`
}

// SystemAccount — единственный системный счет, копит комиссию
type SystemAccount struct {
	Accrued        float64 `json:"accrued"`
	CommissionRate float64 `json:"commission_rate"`
}

type Booking struct {
	ID          int           `json:"id"`
	Title       string        `json:"title"`
	Text        string        `json:"text"`
	Price       float64       `json:"price"`
	CustomerID  int           `json:"customer_id"`
	PerformerID *int          `json:"performer_id,omitempty"`
	Status      BookingStatus `json:"status"`
	Candidates  []int         `json:"candidates,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// HasCandidate reports whether the performer already applied.
func (b *Booking) HasCandidate(performerID int) bool {
	for _, id := range b.Candidates {
		if id == performerID {
			return true
		}
	}
	return false
}

type Comment struct {
	ID        int       `json:"id"`
	BookingID int       `json:"booking_id"`
	AuthorID  int       `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// BookingView — строка списка заказов вместе с доступным действием
type BookingView struct {
	Booking
	Action AllowedAction `json:"action"`
}

// Payout is what complete reports back to the customer.
type Payout struct {
	Commission     float64 `json:"commission"`
	PerformerShare float64 `json:"performer_share"`
}
