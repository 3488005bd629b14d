package telegram

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/telebot.v4"

	"persona-relay/internal/domain"
)

// DecodeUpdate parses a webhook body. Malformed JSON is an error; a
// well-formed update the relay does not act on decodes to
// domain.UpdateUnsupported. That includes commands addressed to a bot other
// than botUsername, and every addressed command when botUsername is empty.
func DecodeUpdate(raw []byte, botUsername string) (domain.Update, error) {
	var u telebot.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return domain.Update{}, fmt.Errorf("telegram: decode update: %w", err)
	}
	out := domain.Update{ID: int64(u.ID)}

	switch {
	case u.Callback != nil:
		if u.Callback.Message == nil || u.Callback.Message.Chat == nil {
			return out, nil
		}
		out.Kind = domain.UpdateCallback
		out.ConversationID = u.Callback.Message.Chat.ID
		out.CallbackID = u.Callback.ID
		out.CallbackData = u.Callback.Data
	case u.Message != nil:
		msg := u.Message
		if msg.Chat == nil {
			return out, nil
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return out, nil
		}
		if name, mention, ok := commandName(text); ok {
			if mention != "" && !addressedTo(mention, botUsername) {
				return out, nil
			}
			out.ConversationID = msg.Chat.ID
			out.Kind = domain.UpdateCommand
			out.Command = name
			return out, nil
		}
		out.ConversationID = msg.Chat.ID
		out.Kind = domain.UpdateText
		out.Text = text
	}
	return out, nil
}

// commandName splits "/start@my_bot payload" into "start" and the
// mentioned bot "my_bot". mention is empty for a bare "/start".
func commandName(text string) (name, mention string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	name = strings.TrimPrefix(strings.Fields(text)[0], "/")
	name, mention, _ = strings.Cut(name, "@")
	name = strings.ToLower(name)
	if name == "" {
		return "", "", false
	}
	return name, mention, true
}

// addressedTo reports whether a command mention names this bot. Telegram
// usernames are case-insensitive.
func addressedTo(mention, botUsername string) bool {
	botUsername = strings.TrimPrefix(strings.TrimSpace(botUsername), "@")
	return botUsername != "" && strings.EqualFold(mention, botUsername)
}
