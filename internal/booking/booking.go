// Package booking contains the escrow state machine: guards, transitions and
// the commission split. Everything here works on plain model structs so the
// rules can be checked without a database; the storage layer loads rows,
// calls these functions inside a transaction and writes the result back.
package booking

import (
	"github.com/seagate85/AbstractBooking/internal/errs"
	"github.com/seagate85/AbstractBooking/internal/model"
	"github.com/seagate85/AbstractBooking/internal/utils"
)

// Offer registers actor as a candidate for the booking. The booking must be
// PENDING or WAITING_FOR_APPROVAL, actor must not be the customer or an
// existing candidate, and the customer must be able to pay the price.
func Offer(b *model.Booking, actor model.User, customer model.Account) error {
	if b.Status != model.Pending && b.Status != model.WaitingForApproval {
		return errs.ErrInvalidStatus
	}
	if actor.ID == b.CustomerID {
		return errs.ErrForbidden
	}
	if b.HasCandidate(actor.ID) {
		return errs.ErrDuplicateCandidate
	}
	if customer.Balance < b.Price {
		return errs.ErrInsufficientFunds
	}

	b.Candidates = append(b.Candidates, actor.ID)
	b.Status = model.WaitingForApproval
	return nil
}

// Approve confirms one of the candidates and debits the customer. Funds are
// re-checked here: the balance may have changed since the offer.
func Approve(b *model.Booking, actor model.User, chosenID int, customer *model.Account) error {
	if actor.ID != b.CustomerID {
		return errs.ErrNotOwner
	}
	if b.Status != model.WaitingForApproval {
		return errs.ErrInvalidStatus
	}
	if !b.HasCandidate(chosenID) {
		return errs.ErrUnknownCandidate
	}
	if customer.Balance < b.Price {
		return errs.ErrInsufficientFunds
	}

	customer.Balance -= b.Price
	chosen := chosenID
	b.PerformerID = &chosen
	b.Candidates = nil
	b.Status = model.Running
	return nil
}

// Complete finishes a RUNNING booking: the commission goes to the system
// account, the rest to the performer. The rate is taken from the system
// account at completion time, not remembered from approval.
func Complete(b *model.Booking, actor model.User, sys *model.SystemAccount, performer *model.Account) (commission, share float64, err error) {
	if b.Status != model.Running {
		return 0, 0, errs.ErrInvalidStatus
	}
	if actor.ID != b.CustomerID {
		return 0, 0, errs.ErrNotOwner
	}

	commission, share = Split(b.Price, sys.CommissionRate)
	sys.Accrued += commission
	performer.Balance += share
	b.Status = model.Completed
	return commission, share, nil
}

// Split divides price between the system and the performer. The commission
// is rounded to cents and the performer gets the remainder, so the two parts
// always add up to the price exactly.
func Split(price, rate float64) (commission, share float64) {
	commission = utils.RoundCents(price * rate)
	share = price - commission
	return commission, share
}

// CanDelete reports whether actor may delete the booking. Only the customer
// may delete, and only while the booking is PENDING; everything else looks
// like a missing booking to the caller.
func CanDelete(b *model.Booking, actor model.User) bool {
	return actor.ID == b.CustomerID && b.Status == model.Pending
}

// CanUpdate mirrors CanDelete: title and text are editable by the customer
// while nobody has been approved yet.
func CanUpdate(b *model.Booking, actor model.User) bool {
	return actor.ID == b.CustomerID && b.Status == model.Pending
}

// CanComment permits the customer and the performer. A performer whose
// application is still waiting for approval is not confirmed and may not
// comment yet.
func CanComment(b *model.Booking, author model.User) error {
	isCustomer := author.ID == b.CustomerID
	isPerformer := b.PerformerID != nil && *b.PerformerID == author.ID
	if !isCustomer && !isPerformer {
		return errs.ErrForbidden
	}
	if isPerformer && b.Status == model.WaitingForApproval {
		return errs.ErrForbidden
	}
	return nil
}

// CanViewDetails: карточку заказа видят только заказчик и исполнитель
func CanViewDetails(b *model.Booking, viewer model.User) bool {
	if viewer.ID == b.CustomerID {
		return true
	}
	return b.PerformerID != nil && *b.PerformerID == viewer.ID
}

// AllowedActionFor derives the list-view action button for one booking.
// funded tells whether the booking's customer currently has balance >= price.
// The derivation is read-only and depends only on its arguments.
func AllowedActionFor(b model.Booking, viewer model.User, funded bool) model.AllowedAction {
	switch b.Status {
	case model.Pending:
		if !funded {
			return model.NotActive
		}
		if viewer.Role == model.RolePerformer {
			return model.CanTake
		}
		return model.CanView

	case model.WaitingForApproval:
		if viewer.Role == model.RolePerformer {
			// другие исполнители еще могут подать заявку
			if b.HasCandidate(viewer.ID) {
				return model.CanView
			}
			return model.CanTake
		}
		if viewer.ID == b.CustomerID {
			return model.CanApprove
		}
		return model.CanView

	case model.Running:
		if viewer.ID == b.CustomerID {
			return model.CanComplete
		}
		return model.CanView

	default:
		return model.CanView
	}
}
