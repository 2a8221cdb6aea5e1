package conversation

import (
	"time"

	"pickup-bot/internal/model"
)

type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingAddress      State = "awaiting_address"
	StateAwaitingComment      State = "awaiting_comment"
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

type Input int

const (
	InputText Input = iota
	InputStartOrder
	InputConfirm
	InputCancel
)

func (i Input) String() string {
	switch i {
	case InputText:
		return "text"
	case InputStartOrder:
		return "start_order"
	case InputConfirm:
		return "confirm"
	case InputCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event is one inbound user action, already resolved to an internal user.
type Event struct {
	UserID      uint
	ExternalID  int64
	DisplayName string
	Username    string
	Input       Input
	Text        string
	// At is when the user acted. Zero means "now" by the engine clock.
	At time.Time
}

// Draft is the order being composed.
type Draft struct {
	Address        string    `json:"address"`
	Comment        string    `json:"comment"`
	Slot           string    `json:"slot"`
	SlotAssignedAt time.Time `json:"slot_assigned_at"`
}

// Session is the per-user progress through the order form. Idle users have none.
type Session struct {
	UserID    uint      `json:"user_id"`
	State     State     `json:"state"`
	Draft     Draft     `json:"draft"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ReplyKind int

const (
	ReplyUnknownInput ReplyKind = iota
	ReplyNoSubscription
	ReplyAskAddress
	ReplyInvalidAddress
	ReplyAskComment
	ReplyInvalidComment
	ReplySummary
	ReplyOrderCreated
	ReplyCancelled
	ReplyFailure
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyUnknownInput:
		return "unknown_input"
	case ReplyNoSubscription:
		return "no_subscription"
	case ReplyAskAddress:
		return "ask_address"
	case ReplyInvalidAddress:
		return "invalid_address"
	case ReplyAskComment:
		return "ask_comment"
	case ReplyInvalidComment:
		return "invalid_comment"
	case ReplySummary:
		return "summary"
	case ReplyOrderCreated:
		return "order_created"
	case ReplyCancelled:
		return "cancelled"
	case ReplyFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Reply is the outcome of one transition. State is where the user is afterwards.
type Reply struct {
	Kind  ReplyKind
	State State
	Draft Draft
	Order *model.Order
}
