// Package history implements the History Manager (C9): bounding a message
// list to fit a context budget without dropping system instructions,
// grounded on the teacher agent loop's own tool-result truncation and
// token-estimate conventions.
package history

import (
	"github.com/corvidae/relay/pkg/providers"
)

const truncationSentinel = "…[truncated]"

// Strategy selects how truncate drops older messages.
type Strategy string

const (
	// StrategySliding keeps all system messages plus the most recent
	// preserveRecentCount non-system messages.
	StrategySliding Strategy = "sliding"
	// StrategyPriority keeps all system messages, then fills half the
	// remaining slots with the most recent user messages and the other
	// half with the most recent tool/assistant messages.
	StrategyPriority Strategy = "priority"
)

// Config tunes truncate and compressToolResults.
type Config struct {
	Strategy             Strategy
	PreserveRecentCount  int
	MaxToolResultLength  int
}

// Truncate bounds messages per §4.9, always preserving every system message
// regardless of strategy or budget.
func Truncate(messages []providers.Message, cfg Config) []providers.Message {
	var system, rest []providers.Message
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	switch cfg.Strategy {
	case StrategyPriority:
		rest = truncatePriority(rest, cfg.PreserveRecentCount)
	default:
		rest = truncateSliding(rest, cfg.PreserveRecentCount)
	}

	out := make([]providers.Message, 0, len(system)+len(rest))
	out = append(out, system...)
	out = append(out, rest...)
	return out
}

func truncateSliding(rest []providers.Message, keep int) []providers.Message {
	if keep <= 0 || len(rest) <= keep {
		return rest
	}
	return rest[len(rest)-keep:]
}

// truncatePriority fills half the kept slots with the most recent user
// messages and the other half with the most recent tool/assistant
// messages, then re-sorts the survivors back into original order.
type indexedMessage struct {
	msg providers.Message
	idx int
}

func truncatePriority(rest []providers.Message, keep int) []providers.Message {
	if keep <= 0 || len(rest) <= keep {
		return rest
	}

	var userMsgs, otherMsgs []indexedMessage
	for i, m := range rest {
		if m.Role == "user" {
			userMsgs = append(userMsgs, indexedMessage{m, i})
		} else {
			otherMsgs = append(otherMsgs, indexedMessage{m, i})
		}
	}

	userSlots := keep / 2
	otherSlots := keep - userSlots

	keptUser := lastN(userMsgs, userSlots)
	keptOther := lastN(otherMsgs, otherSlots)

	merged := append(keptUser, keptOther...)
	sortByIndex(merged)

	out := make([]providers.Message, len(merged))
	for i, e := range merged {
		out[i] = e.msg
	}
	return out
}

func lastN[T any](in []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if len(in) <= n {
		return append([]T(nil), in...)
	}
	return append([]T(nil), in[len(in)-n:]...)
}

func sortByIndex(in []indexedMessage) {
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j-1].idx > in[j].idx; j-- {
			in[j-1], in[j] = in[j], in[j-1]
		}
	}
}

// CompressToolResults truncates any tool message whose content exceeds
// maxLength, appending the sentinel suffix (§4.9).
func CompressToolResults(messages []providers.Message, maxLength int) []providers.Message {
	if maxLength <= 0 {
		return messages
	}
	out := make([]providers.Message, len(messages))
	for i, m := range messages {
		if m.Role == "tool" && len(m.Content) > maxLength {
			m.Content = m.Content[:maxLength] + truncationSentinel
		}
		out[i] = m
	}
	return out
}

const (
	charsPerToken   = 4
	imageTokenCost  = 85
	roleOverhead    = 4
)

// EstimateTokens approximates the token footprint of messages using
// ceil(chars/4) per text segment, 85 per attached image part, and a flat 4
// per message for role overhead (§4.9). Used only for logging and
// opportunistic pre-checks, never to gate a provider call.
func EstimateTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += roleOverhead
		total += ceilDiv(len(m.Content), charsPerToken)
		for _, part := range m.ContentParts {
			switch part.Type {
			case "image":
				total += imageTokenCost
			default:
				total += ceilDiv(len(part.Text), charsPerToken)
			}
		}
	}
	return total
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
