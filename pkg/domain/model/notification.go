package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// Notification surfaces a status change to the submitting user
type Notification struct {
	ID              types.NotificationID  `json:"id"`
	RecipientID     types.UserID          `json:"recipient_id"`
	ChangeRequestID types.ChangeRequestID `json:"change_request_id"`
	TicketID        TicketID              `json:"ticket_id"`
	Title           string                `json:"title"`
	Message         string                `json:"message"`
	FromStatus      types.ChangeStatus    `json:"from_status"`
	ToStatus        types.ChangeStatus    `json:"to_status"`
	Read            bool                  `json:"read"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"` // bumped when Read flips
}

// NewStatusNotification builds the unread notification for a transition of cr
func NewStatusNotification(cr *ChangeRequest, from, to types.ChangeStatus, notes string, at time.Time) *Notification {
	msg := fmt.Sprintf("Your change request %s moved from %s to %s.", cr.TicketID, from.Label(), to.Label())
	if notes != "" {
		msg += " Notes: " + notes
	}
	return &Notification{
		ID:              types.NewNotificationID(),
		RecipientID:     cr.SubmittedBy,
		ChangeRequestID: cr.ID,
		TicketID:        cr.TicketID,
		Title:           fmt.Sprintf("%s: %s", cr.TicketID, to.Label()),
		Message:         msg,
		FromStatus:      from,
		ToStatus:        to,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

// WithTicket returns a copy of n referring to ticketID instead of its current ticket
func (n *Notification) WithTicket(ticketID TicketID) *Notification {
	c := *n
	if n.TicketID != "" {
		c.Title = strings.ReplaceAll(n.Title, n.TicketID.String(), ticketID.String())
		c.Message = strings.ReplaceAll(n.Message, n.TicketID.String(), ticketID.String())
	}
	c.TicketID = ticketID
	return &c
}
