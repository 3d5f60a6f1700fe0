package types

// Channel identifies a communication medium for inbound and outbound messages.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelVoice Channel = "voice"
	ChannelNone  Channel = "none"
)

func ValidInboundChannel(c Channel) bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelVoice:
		return true
	default:
		return false
	}
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// TaskStatus is the task state machine state. Transitions are owned by the
// lifecycle manager; nothing else writes status.
type TaskStatus string

const (
	StatusPendingReview        TaskStatus = "PENDING_REVIEW"
	StatusApproved             TaskStatus = "APPROVED"
	StatusRejected             TaskStatus = "REJECTED"
	StatusAwaitingMemberAction TaskStatus = "AWAITING_MEMBER_ACTION"
	StatusExecuted             TaskStatus = "EXECUTED"
	StatusCancelled            TaskStatus = "CANCELLED"
)

func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusCancelled:
		return true
	default:
		return false
	}
}

type TaskCategory string

const (
	CategoryAccount        TaskCategory = "account"
	CategoryBooking        TaskCategory = "booking"
	CategoryOrdering       TaskCategory = "ordering"
	CategoryMembership     TaskCategory = "membership"
	CategoryGeneralEnquiry TaskCategory = "general_enquiry"
	CategoryComplaint      TaskCategory = "complaint"
)

// TaskSubtype keys the execution handler registry. The set is closed: handlers
// are registered per subtype and unknown subtypes take the no-handler path.
type TaskSubtype string

const (
	SubtypeAddressChange  TaskSubtype = "address_change"
	SubtypeBookingRequest TaskSubtype = "booking_request"
	SubtypeOrderEnquiry   TaskSubtype = "order_enquiry"
	SubtypeGeneral        TaskSubtype = "general"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Role is a staff role. Only elevated roles may approve tasks or reassign.
type Role string

const (
	RoleBasic   Role = "basic"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

func (r Role) Elevated() bool {
	return r == RoleManager || r == RoleAdmin
}

// ActionType tags an audit ledger entry.
type ActionType string

const (
	ActionCreated            ActionType = "created"
	ActionStatusChanged      ActionType = "status_changed"
	ActionApproved           ActionType = "approved"
	ActionRejected           ActionType = "rejected"
	ActionUpdated            ActionType = "updated"
	ActionAssigned           ActionType = "assigned"
	ActionNoteAdded          ActionType = "note_added"
	ActionLinked             ActionType = "linked"
	ActionExecutionTriggered ActionType = "execution_triggered"
	ActionExecuted           ActionType = "executed"
)

// TokenType names the privileged change a member action token authorizes.
type TokenType string

const (
	TokenAddressChange TokenType = "address_change"
)

type CustomerType string

const (
	CustomerMember  CustomerType = "member"
	CustomerVisitor CustomerType = "visitor"
)
