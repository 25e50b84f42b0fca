package llm

import (
	"strings"

	"github.com/MrWong99/pettry/pkg/types"
)

// Alternate returns msgs reshaped for backends that require strictly
// alternating user and assistant turns starting with the user, such as
// Anthropic and Gemini. Leading assistant messages (the widget greeting) are
// dropped and consecutive messages of the same role are joined with a blank
// line. System messages are treated as user messages. msgs is not modified.
func Alternate(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role == types.RoleSystem {
			role = types.RoleUser
		}
		if len(out) == 0 && role != types.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = strings.TrimSpace(out[n-1].Content + "\n\n" + m.Content)
			continue
		}
		out = append(out, types.Message{Role: role, Content: m.Content})
	}
	return out
}
