package usecase

import (
	"fmt"
	"strings"

	"legalguide-agent/internal/domain"
)

func buildAdviceMessages(issue string, history []domain.ChatMessage, location string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildGuidePrompt(location)},
	}

	for _, m := range history {
		messages = append(messages, historyToPromptMessages(m)...)
	}

	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: issue,
	})
	return messages
}

func buildGuidePrompt(location string) string {
	parts := []string{
		"Role:",
		"You are an empathetic legal guide for people in Jamaica.",
		"",
		"Task:",
		"Help the user understand their legal issue under Jamaican law and what they can do next.",
		"",
		"Behavior Rules:",
		behaviorRules(),
		"",
		"Output Contract:",
		outputContract(),
	}
	if location != "" {
		parts = append(parts, "", "Location:", locationInstruction(location))
	}
	return strings.Join(parts, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Be warm and empathetic; legal problems are stressful.",
		"2) Explain the user's options in plain language, without jargon.",
		"3) You give general guidance, not formal legal advice.",
		"4) Recommend consulting a licensed Jamaican attorney for anything binding.",
		"5) Stay focused on the issue the user described.",
	}, "\n")
}

func outputContract() string {
	return "End your reply with one final line of the exact form " +
		"SEARCH_QUERY: <terms> where <terms> are search terms for finding a " +
		"suitable legal professional for this issue in Jamaica."
}

func locationInstruction(location string) string {
	return fmt.Sprintf(
		"The user is located in %s. Fold this location into the SEARCH_QUERY terms.",
		normalizePromptInput(location),
	)
}

func historyToPromptMessages(m domain.ChatMessage) []domain.ChatMessage {
	if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
		return nil
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return nil
	}
	return []domain.ChatMessage{{Role: m.Role, Content: content}}
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
