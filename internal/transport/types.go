package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool

	// ReplyTo points at the message this one replies to (nil if none).
	ReplyTo *MessageRef
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "" (plain text) or "HTML"
	DisablePreview bool
}

// Member roles reported by MemberRole.
const (
	RoleCreator       = "creator"
	RoleAdministrator = "administrator"
	RoleMember        = "member"
)

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error

	// CopyMessage sends a copy of an existing message to another chat,
	// without the "forwarded from" header.
	CopyMessage(ctx context.Context, to ChatTarget, from MessageRef) error

	// MemberRole returns the platform role of userID inside chatID.
	MemberRole(ctx context.Context, chatID, userID int64) (string, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
