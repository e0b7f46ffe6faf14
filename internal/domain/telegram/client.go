package telegram

// Client sends plain-text operator messages to a Telegram chat.
// It decouples pass reporting from the bot library.
type Client interface {
	SendMessage(chatID int64, text string) error
}
