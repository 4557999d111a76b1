// Package mock provides a recording [discord.Responder] for command tests.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records every reply a handler sends. Set Err to make
// both calls fail. Safe for concurrent use.
type InteractionResponder struct {
	mu sync.Mutex

	Responses []*discordgo.InteractionResponse
	FollowUps []*discordgo.WebhookParams
	Err       error
}

func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowUps = append(m.FollowUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "followup"}, nil
}

// LastResponse returns the latest initial response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.Responses)
}

// LastFollowUp returns the latest follow-up, or nil.
func (m *InteractionResponder) LastFollowUp() *discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.FollowUps)
}

// LastContent returns the text the user saw last: the latest follow-up if
// the handler deferred, otherwise the latest response.
func (m *InteractionResponder) LastContent() string {
	if f := m.LastFollowUp(); f != nil {
		return f.Content
	}
	if r := m.LastResponse(); r != nil && r.Data != nil {
		return r.Data.Content
	}
	return ""
}

// LastEmbeds returns the embeds of the latest follow-up or response.
func (m *InteractionResponder) LastEmbeds() []*discordgo.MessageEmbed {
	if f := m.LastFollowUp(); f != nil {
		return f.Embeds
	}
	if r := m.LastResponse(); r != nil && r.Data != nil {
		return r.Data.Embeds
	}
	return nil
}

func last[T any](s []*T) *T {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}
