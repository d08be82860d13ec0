package chat

// Inbound operations on the hub surface.
const (
	OpConnect             = "connect"
	OpSendMessage         = "send_message"
	OpEditMessage         = "edit_message"
	OpTyping              = "typing"
	OpStopTyping          = "stop_typing"
	OpMarkRead            = "mark_read"
	OpMarkAllRead         = "mark_all_read"
	OpHeartbeat           = "heartbeat"
	OpRequestUnreadCounts = "request_unread_counts"
	OpGetUsersWithStatus  = "get_users_with_status"
)

// Outbound realtime events. Mirrored to the companion bridge group unless
// the event originated there.
const (
	EvReceiveMessage          = "ReceiveMessage"
	EvReceiveEditedMessage    = "ReceiveEditedMessage"
	EvMessageSentSuccessfully = "MessageSentSuccessfully"
	EvSendMessageError        = "SendMessageError"
	EvEditMessageSentFailed   = "EditMessageSentFailed"
	EvMessageQueued           = "MessageQueued"
	EvUserStatusChanged       = "UserStatusChanged"
	EvUserTyping              = "UserTyping"
	EvUserStoppedTyping       = "UserStoppedTyping"
	EvUpdateUnreadCount       = "UpdateUnreadCount"
	EvMessageSeenUpdate       = "MessageSeenUpdate"
	EvMessageMarkedAsRead     = "MessageSuccessfullyMarkedAsRead"
	EvAllMarkedAsRead         = "AllUnreadMessagesSuccessfullyMarkedAsRead"
	EvConnectAck              = "ConnectAck"
	EvUsersWithStatus         = "UsersWithStatus"
	EvUnreadCounts            = "UnreadCounts"
)

// Handler processes one inbound operation.
type Handler interface {
	Op() string
	Handle(ctx *Context, f *Frame, c *Client) error
}

// Context hands the server to handlers.
type Context struct {
	S *Server
}
