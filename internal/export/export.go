package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tanmoy/chatdump/internal/extract"
	"github.com/tanmoy/chatdump/pkg/models"
)

// Meta carries the chat-level context an export needs beyond the messages.
type Meta struct {
	CharacterName string
	UserName      string
	Greeting      string
	SourceURL     string
	ExportedAt    time.Time
}

// Render serializes an ordered message list into the requested format and
// returns the file content plus a safe filename. Messages are re-sorted into
// ascending chronological order first regardless of fetch order.
func Render(msgs []models.Message, format models.ExportFormat, meta Meta) ([]byte, string, error) {
	if !format.IsValid() {
		return nil, "", fmt.Errorf("%w: %q", models.ErrBadFormat, format)
	}

	ordered := make([]models.Message, len(msgs))
	copy(ordered, msgs)
	models.SortMessages(ordered)

	if meta.ExportedAt.IsZero() {
		meta.ExportedAt = time.Now()
	}
	if meta.UserName == "" {
		meta.UserName = "You"
	}

	var content []byte
	var err error
	switch format {
	case models.FormatText:
		content = renderText(ordered, meta)
	case models.FormatJSONL:
		content, err = renderJSONL(ordered, meta)
	case models.FormatTavern:
		content, err = renderTavern(ordered, meta)
	case models.FormatJSON:
		content, err = renderJSON(ordered, meta)
	case models.FormatHTML:
		content, err = renderHTML(ordered, meta)
	}
	if err != nil {
		return nil, "", err
	}

	return content, Filename(meta.CharacterName, meta.ExportedAt, format), nil
}

func author(m models.Message, meta Meta) string {
	if !m.FromBot {
		return meta.UserName
	}
	if m.Author != "" {
		return m.Author
	}
	return meta.CharacterName
}

func renderText(msgs []models.Message, meta Meta) []byte {
	var blocks []string
	if meta.Greeting != "" {
		blocks = append(blocks, fmt.Sprintf("%s\n\n%s", meta.CharacterName, meta.Greeting))
	}
	for _, m := range msgs {
		blocks = append(blocks, fmt.Sprintf("%s\n\n%s", author(m, meta), m.Text))
	}
	return []byte(strings.Join(blocks, "\n\n") + "\n")
}

type jsonlLine struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp,omitempty"`
	Images    []string `json:"images,omitempty"`
}

func renderJSONL(msgs []models.Message, meta Meta) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	if meta.Greeting != "" {
		if err := enc.Encode(jsonlLine{Role: "assistant", Content: meta.Greeting}); err != nil {
			return nil, err
		}
	}
	for _, m := range msgs {
		line := jsonlLine{
			Role:      "user",
			Content:   m.Text,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
			Images:    messageImages(m),
		}
		if m.FromBot {
			line.Role = "assistant"
		}
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type tavernHeader struct {
	UserName      string `json:"user_name"`
	CharacterName string `json:"character_name"`
	CreateDate    string `json:"create_date"`
}

type tavernLine struct {
	Name     string   `json:"name"`
	IsUser   bool     `json:"is_user"`
	SendDate string   `json:"send_date"`
	Mes      string   `json:"mes"`
	Swipes   []string `json:"swipes,omitempty"`
	SwipeID  *int     `json:"swipe_id,omitempty"`
}

func renderTavern(msgs []models.Message, meta Meta) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	createDate := meta.ExportedAt
	if len(msgs) > 0 {
		createDate = msgs[0].CreatedAt
	}
	header := tavernHeader{
		UserName:      meta.UserName,
		CharacterName: meta.CharacterName,
		CreateDate:    createDate.UTC().Format(time.RFC3339),
	}
	if err := enc.Encode(header); err != nil {
		return nil, err
	}

	for _, m := range msgs {
		line := tavernLine{
			Name:     author(m, meta),
			IsUser:   !m.FromBot,
			SendDate: m.CreatedAt.UTC().Format(time.RFC3339),
			Mes:      m.Text,
		}
		if len(m.Variations) > 0 {
			// The active text leads the swipe list; its index points at it.
			line.Swipes = append([]string{m.Text}, m.Variations...)
			zero := 0
			line.SwipeID = &zero
		}
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type jsonExport struct {
	SourceURL     string           `json:"source_url,omitempty"`
	ExportedAt    string           `json:"exported_at"`
	CharacterName string           `json:"character_name"`
	Greeting      string           `json:"greeting,omitempty"`
	Messages      []jsonExportItem `json:"messages"`
}

type jsonExportItem struct {
	ID         string                     `json:"id"`
	CreatedAt  string                     `json:"created_at"`
	Author     string                     `json:"author"`
	IsUser     bool                       `json:"is_user"`
	Text       string                     `json:"text"`
	Variations []string                   `json:"variations,omitempty"`
	Generation *models.GenerationSettings `json:"generation,omitempty"`
}

func renderJSON(msgs []models.Message, meta Meta) ([]byte, error) {
	doc := jsonExport{
		SourceURL:     meta.SourceURL,
		ExportedAt:    meta.ExportedAt.UTC().Format(time.RFC3339),
		CharacterName: meta.CharacterName,
		Greeting:      meta.Greeting,
		Messages:      make([]jsonExportItem, 0, len(msgs)),
	}
	for _, m := range msgs {
		doc.Messages = append(doc.Messages, jsonExportItem{
			ID:         m.ID,
			CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
			Author:     author(m, meta),
			IsUser:     !m.FromBot,
			Text:       m.Text,
			Variations: m.Variations,
			Generation: m.Generation,
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

// messageImages returns the full-resolution image URLs attached to a message,
// reusing the extractor's thumbnail filter.
func messageImages(m models.Message) []string {
	if m.Generation == nil {
		return nil
	}
	var out []string
	for _, u := range m.Generation.ImageURLs {
		if u == "" || extract.IsThumbnail(u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

const maxFilenameLen = 120

// Filename builds "{character}-{date}.{ext}" with filesystem-unsafe
// characters replaced and the whole name capped at 120 characters.
func Filename(characterName string, when time.Time, format models.ExportFormat) string {
	name := unsafeFilenameChars.ReplaceAllString(characterName, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "chat"
	}

	full := fmt.Sprintf("%s-%s.%s", name, when.Format("2006-01-02"), format.Ext())
	if len(full) > maxFilenameLen {
		over := len(full) - maxFilenameLen
		name = name[:len(name)-over]
		full = fmt.Sprintf("%s-%s.%s", name, when.Format("2006-01-02"), format.Ext())
	}
	return full
}
