package chat

import (
	"fmt"
	"strings"

	"github.com/MrWong99/pettry/internal/analysis"
	"github.com/MrWong99/pettry/internal/catalog"
)

const persona = "You are Pettry, a friendly AI penguin who helps pet owners find the perfect products. " +
	"You're helpful, warm, and chat like a friend - not a robotic assistant."

const guidelines = `Chat Style Guidelines:
- Talk naturally like texting a friend, but stay semi-formal
- Use casual phrases like "Hey!", "That's awesome!", "I think", "maybe", "honestly"
- Avoid robotic patterns like "As an AI assistant" or listing things as "1. 2. 3."
- Don't mention categories mechanically - weave them naturally into conversation
- Ask questions that show genuine interest, not formulaic
- Keep responses short (2-3 sentences usually), like real texting
- Use emojis occasionally but don't overdo it

Your approach:
- Ask about the pet's personality, habits, what they enjoy
- When recommending products, explain personally why you think they'd love it
- Sound excited when talking about pets
- After giving recommendations, casually ask if they want to grab any of these

Example good responses:
"Oh your cat sounds super playful! Have you tried any interactive toys? They might really love something that keeps them busy."
"Based on what you said, I think the Premium Cat Food would be perfect - it's got all the nutrients active cats need and most cats actually enjoy the taste!"

Example bad responses (avoid these):
"As a pet care assistant, I recommend the following products: 1. Premium Cat Food 2. Interactive Toys"
"Your pet falls into the active category, so I suggest products from our active pet category."`

// SystemPrompt renders the Pettry persona, what is known about the pet and
// the product list. It is pure and safe for concurrent use.
func SystemPrompt(petAnalysis string, profile *analysis.PetProfile, products []catalog.Product) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n")
	writePetInfo(&sb, petAnalysis, profile)

	sb.WriteString("\n\nAvailable Products:\n")
	for _, p := range products {
		fmt.Fprintf(&sb, "- %s (%s): %s [Category: %s, Pet Type: %s]\n",
			p.Name, p.Price(), p.Description, p.Category, p.PetType)
	}
	sb.WriteString("\n")
	sb.WriteString(guidelines)
	return sb.String()
}

func writePetInfo(sb *strings.Builder, petAnalysis string, profile *analysis.PetProfile) {
	if profile == nil || profile.Empty() {
		if strings.TrimSpace(petAnalysis) == "" {
			petAnalysis = "Not yet provided"
		}
		fmt.Fprintf(sb, "Pet Information: %s", petAnalysis)
		return
	}
	summary := petAnalysis
	if summary == "" {
		summary = profile.FriendlySummary
	}
	fmt.Fprintf(sb, "Pet Type: %s\nBreed: %s\nAge: %s\nSize: %s\nHealth: %s\nCharacteristics: %s\nAdditional Details: %s\n\nFriendly Summary: %s",
		orUnknown(profile.Type), orUnknown(profile.Breed), orUnknown(profile.Age), orUnknown(profile.Size),
		orUnknown(profile.Health), orUnknown(profile.Characteristics), or(profile.AdditionalDetails, "None"), summary)
}

func orUnknown(s string) string { return or(s, "Unknown") }

func or(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// Greeting is the first assistant message of a shopping session. Without
// an analysis Pettry asks for a photo.
func Greeting(petAnalysis string) string {
	petAnalysis = strings.TrimSpace(petAnalysis)
	if petAnalysis == "" {
		return "Hi! I'm Pettry 🐧 Share a photo of your pet and I'll help you find the perfect products for them!"
	}
	return "Hello! I've analyzed your pet. " + petAnalysis +
		"\n\nLet me ask you a few questions to find the perfect products! " +
		"What's your pet's name, and are there any specific needs or concerns you have?"
}
