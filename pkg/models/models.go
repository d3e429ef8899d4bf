package models

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrFetchFailed = errors.New("fetch failed")
	ErrNoChats     = errors.New("no chats found")
	ErrNoMessages  = errors.New("conversation is empty")
	ErrNoImages    = errors.New("no images found")
	ErrBadFormat   = errors.New("unknown export format")
)

// CharacterRef describes one chat participant and the photo sets the API
// exposes for it. Immutable once attached to a ChatSummary.
type CharacterRef struct {
	ID         string
	Name       string
	Thumbnail  string
	Foreground []string
	Background []string
}

// ChatSummary is one entry of the chat list. ImageCount is nil until a
// separate on-demand probe fills it in.
type ChatSummary struct {
	ID         string
	Title      string
	CreatedAt  time.Time
	Characters []CharacterRef
	ImageCount *int
}

// GenerationSettings carries the image-generation metadata attached to a
// message. The API's shape for extra images is not fixed, so anything not
// matched by a known field lands in Extra and is probed by the extractor.
type GenerationSettings struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	Sampler        string
	CFGScale       float64
	Seed           int64
	BatchSize      int
	ImageURLs      []string
	Extra          map[string]any
}

type Message struct {
	ID         string
	CreatedAt  time.Time
	FromBot    bool
	Author     string
	Text       string
	Generation *GenerationSettings
	Variations []string
}

type ImageKind string

const (
	KindGenerated       ImageKind = "generated"
	KindCharacterPhoto  ImageKind = "character"
	KindBackgroundPhoto ImageKind = "background"
)

// ImageDescriptor is the normalized record for one discovered image,
// independent of which raw API field it was found in. NormalizedURL is the
// dedup key: no two descriptors in an extractor result set share one.
type ImageDescriptor struct {
	URL           string
	NormalizedURL string
	Caption       string
	Timestamp     time.Time
	Kind          ImageKind
	SourceField   string
	ModelName     string
	Generation    *GenerationSettings
}

type ExportFormat string

const (
	FormatText   ExportFormat = "txt"
	FormatJSONL  ExportFormat = "jsonl"
	FormatTavern ExportFormat = "tavern"
	FormatJSON   ExportFormat = "json"
	FormatHTML   ExportFormat = "html"
)

func ValidFormats() []ExportFormat {
	return []ExportFormat{FormatText, FormatJSONL, FormatTavern, FormatJSON, FormatHTML}
}

func (f ExportFormat) IsValid() bool {
	return slices.Contains(ValidFormats(), f)
}

func (f ExportFormat) String() string {
	return string(f)
}

// Ext returns the file extension for the format. Tavern exports are still
// JSON-lines files.
func (f ExportFormat) Ext() string {
	if f == FormatTavern {
		return "jsonl"
	}
	return string(f)
}

// SortMessages orders messages by ascending creation time. Pagination order
// is not guaranteed chronological across chunk boundaries, so every consumer
// that cares about order goes through this.
func SortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
