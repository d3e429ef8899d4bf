package api

import (
	"encoding/json"
	"time"

	"github.com/tanmoy/chatdump/pkg/models"
)

// Wire shapes as the chat API actually returns them. Field names follow the
// JSON payloads, not our domain records; decoding maps one onto the other.

type chatListResponse struct {
	Chats []wireChat `json:"chats"`
}

type wireChat struct {
	UUID       string          `json:"uuid"`
	Name       string          `json:"name"`
	CreatedAt  time.Time       `json:"created_at"`
	Characters []wireCharacter `json:"characters"`
}

type wireCharacter struct {
	UUID            string   `json:"uuid"`
	Name            string   `json:"name"`
	ThumbnailPhoto  string   `json:"thumbnail_photo"`
	Photos          []string `json:"photos"`
	BackgroundPhoto []string `json:"background_photos"`
}

type messageListResponse struct {
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	UUID          string          `json:"uuid"`
	CreatedAt     time.Time       `json:"created_at"`
	Message       string          `json:"message"`
	MessageSource string          `json:"message_source"`
	Character     *wireCharacter  `json:"character"`
	TextToImage   json.RawMessage `json:"text_to_image"`
	Variations    []wireVariation `json:"message_variations"`
}

type wireVariation struct {
	Message string `json:"message"`
}

type characterResponse struct {
	CharName     string `json:"char_name"`
	CharGreeting string `json:"char_greeting"`
}

// generationKnown covers the text_to_image fields that have held still across
// API revisions. Everything else is kept raw in Extra for the extractor to
// probe.
type generationKnown struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	SamplingSteps  int      `json:"sampling_steps"`
	SamplingMethod string   `json:"sampling_method"`
	CFGScale       float64  `json:"cfg_scale"`
	Seed           int64    `json:"seed"`
	BatchSize      int      `json:"batch_size"`
	ImageURLs      []string `json:"urls"`
}

var generationKnownFields = map[string]bool{
	"prompt": true, "negative_prompt": true, "width": true, "height": true,
	"sampling_steps": true, "sampling_method": true, "cfg_scale": true,
	"seed": true, "batch_size": true, "urls": true,
}

func decodeGeneration(raw json.RawMessage) *models.GenerationSettings {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var known generationKnown
	if err := json.Unmarshal(raw, &known); err != nil {
		return nil
	}

	gen := &models.GenerationSettings{
		Prompt:         known.Prompt,
		NegativePrompt: known.NegativePrompt,
		Width:          known.Width,
		Height:         known.Height,
		Steps:          known.SamplingSteps,
		Sampler:        known.SamplingMethod,
		CFGScale:       known.CFGScale,
		Seed:           known.Seed,
		BatchSize:      known.BatchSize,
		ImageURLs:      known.ImageURLs,
	}

	var all map[string]any
	if err := json.Unmarshal(raw, &all); err == nil {
		for k := range all {
			if generationKnownFields[k] {
				delete(all, k)
			}
		}
		if len(all) > 0 {
			gen.Extra = all
		}
	}

	return gen
}

func (c wireCharacter) toModel() models.CharacterRef {
	return models.CharacterRef{
		ID:         c.UUID,
		Name:       c.Name,
		Thumbnail:  c.ThumbnailPhoto,
		Foreground: c.Photos,
		Background: c.BackgroundPhoto,
	}
}

func (c wireChat) toModel() models.ChatSummary {
	chars := make([]models.CharacterRef, 0, len(c.Characters))
	for _, wc := range c.Characters {
		chars = append(chars, wc.toModel())
	}
	return models.ChatSummary{
		ID:         c.UUID,
		Title:      c.Name,
		CreatedAt:  c.CreatedAt,
		Characters: chars,
	}
}

func (m wireMessage) toModel() models.Message {
	msg := models.Message{
		ID:         m.UUID,
		CreatedAt:  m.CreatedAt,
		FromBot:    m.MessageSource != "user",
		Text:       m.Message,
		Generation: decodeGeneration(m.TextToImage),
	}
	if m.Character != nil {
		msg.Author = m.Character.Name
	}
	for _, v := range m.Variations {
		msg.Variations = append(msg.Variations, v.Message)
	}
	return msg
}
