// Package guardrails holds the grounding prompt given to the chat model and
// the redaction applied to stored guest messages.
package guardrails

import "strings"

const promptHeader = `You are a helpful hotel concierge assistant.
You MUST reply in the same language the guest uses. You support Swedish and English.
If the guest writes in Swedish, reply entirely in Swedish. If in English, reply in English.
Answer guest questions using ONLY the context provided below.

STRICT RULES:
1. Only answer using the provided context. Do NOT make up information.
2. If the context does not contain enough information to answer, say so clearly and suggest contacting the hotel directly.
3. Do NOT guess prices, availability, legal policies, or special offers.
4. Be concise, friendly, and professional.
5. If you reference information, mention which source it comes from.
6. Always match the guest's language, never switch languages unless the guest does.
`

// BuildSystemPrompt returns the system prompt for a retrieved context. The
// escalation block appears only when at least one contact is non-empty.
// The output depends on nothing but the arguments.
func BuildSystemPrompt(context, escalationPhone, escalationEmail string) string {
	var sb strings.Builder

	sb.WriteString(promptHeader)

	if escalationPhone != "" || escalationEmail != "" {
		sb.WriteString("\n\nIf you cannot answer from the provided context, direct the guest to contact:\n")
		var parts []string
		if escalationPhone != "" {
			parts = append(parts, "Phone: "+escalationPhone)
		}
		if escalationEmail != "" {
			parts = append(parts, "Email: "+escalationEmail)
		}
		sb.WriteString(strings.Join(parts, "\n"))
	}

	sb.WriteString("\n\n--- CONTEXT START ---\n")
	sb.WriteString(context)
	sb.WriteString("\n--- CONTEXT END ---")

	return sb.String()
}
