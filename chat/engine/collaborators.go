package engine

import (
	"context"

	"github.com/parley-chat/parley/chat/history"
	"github.com/parley-chat/parley/llm/types"
)

// Channel describes a configured provider endpoint. Channels are owned by an
// external settings layer; the engine only looks them up.
type Channel struct {
	Provider string
	BaseURL  string
}

// ChannelLookup resolves a channel id to its provider configuration. Absence
// is a terminal, user-visible error for the send.
type ChannelLookup interface {
	Find(channelID string) (Channel, error)
}

// CredentialStore decrypts the API key for a channel. Decryption failure is
// a terminal, user-visible error.
type CredentialStore interface {
	Decrypt(channelID string) (string, error)
}

// HistoryStore reads and appends conversation turns. Touch updates the
// conversation's bookkeeping metadata; its failures are logged and swallowed
// and never fail a send.
type HistoryStore interface {
	Read(conversationID string) ([]history.Message, error)
	Append(conversationID string, msg history.Message) error
	Touch(conversationID string) error
}

// DocumentExtractor extracts text from non-image attachments. Failures
// degrade to an inline placeholder rather than aborting the send.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, att types.Attachment) (string, error)
}
