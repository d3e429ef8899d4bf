package extract

import (
	"fmt"
	"golang.org/x/exp/maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tanmoy/chatdump/pkg/models"
)

// Substrings that mark a URL as a resized/preview variant rather than the
// full-resolution asset. Fixed list, learned from the two sites' CDNs.
var thumbnailMarkers = []string{
	"-resized",
	"width%3D256",
	"width=256",
	"width%3D512",
	"width=512",
	"thumbnail",
	"thumb",
	"small",
	"preview",
}

// IsThumbnail reports whether the URL carries any known thumbnail marker.
func IsThumbnail(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, marker := range thumbnailMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Normalize strips the query and fragment, leaving origin+path. This is the
// dedup key: the CDN serves the same asset under varying signed queries.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexByte(rawURL, '?'); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

var imageSuffixes = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

func looksLikeImageURL(s string) bool {
	if !strings.HasPrefix(s, "http") {
		return false
	}
	path := Normalize(s)
	lower := strings.ToLower(path)
	for _, suf := range imageSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	// Many CDN URLs drop the extension; a plain http URL found inside
	// generation metadata is still a candidate.
	return strings.Contains(s, "://")
}

// Extract walks a batch of messages plus the chat's characters and produces
// the deduplicated, classified image list. Character photos come first
// (character order, foreground before background), then generated images in
// message order. No two results share a normalized URL; the first occurrence
// wins.
func Extract(msgs []models.Message, chars []models.CharacterRef) []models.ImageDescriptor {
	defaultTS := time.Now()
	if len(msgs) > 0 {
		defaultTS = msgs[0].CreatedAt
	}

	var candidates []models.ImageDescriptor

	for _, ch := range chars {
		for _, u := range ch.Foreground {
			candidates = append(candidates, models.ImageDescriptor{
				URL:         u,
				Caption:     ch.Name,
				Timestamp:   defaultTS,
				Kind:        models.KindCharacterPhoto,
				SourceField: "photos",
			})
		}
		for _, u := range ch.Background {
			candidates = append(candidates, models.ImageDescriptor{
				URL:         u,
				Caption:     ch.Name + " background",
				Timestamp:   defaultTS,
				Kind:        models.KindBackgroundPhoto,
				SourceField: "background_photos",
			})
		}
	}

	for _, msg := range msgs {
		candidates = append(candidates, generatedImages(msg)...)
	}

	return dedupe(candidates)
}

// generatedImages collects the primary image URLs plus any probed extras for
// one message.
func generatedImages(msg models.Message) []models.ImageDescriptor {
	gen := msg.Generation
	if gen == nil {
		return nil
	}

	desc := func(u, source string) models.ImageDescriptor {
		return models.ImageDescriptor{
			URL:         u,
			Caption:     gen.Prompt,
			Timestamp:   msg.CreatedAt,
			Kind:        models.KindGenerated,
			SourceField: source,
			ModelName:   modelName(gen),
			Generation:  gen,
		}
	}

	var out []models.ImageDescriptor
	var primaryPaths []string
	for _, u := range gen.ImageURLs {
		if u == "" {
			continue
		}
		out = append(out, desc(u, "urls"))
		primaryPaths = append(primaryPaths, Normalize(u))
	}

	// The API sometimes hangs extra images off arbitrarily named metadata
	// fields, including nested arrays and objects one level deep. Probe
	// every string that looks like an image URL, rejecting thumbnails and
	// duplicates of the primary set.
	for _, cand := range probeExtra(gen.Extra) {
		if IsThumbnail(cand.url) {
			continue
		}
		norm := Normalize(cand.url)
		dup := false
		for _, p := range primaryPaths {
			if p == norm {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		out = append(out, desc(cand.url, cand.field))
	}

	return out
}

type probed struct {
	url   string
	field string
}

// Keys are walked in sorted order so the same metadata always yields the
// same candidates, and first-occurrence dedup stays stable across runs.
func probeExtra(extra map[string]any) []probed {
	var out []probed
	keys := maps.Keys(extra)
	slices.Sort(keys)
	for _, key := range keys {
		switch v := extra[key].(type) {
		case string:
			if looksLikeImageURL(v) {
				out = append(out, probed{url: v, field: key})
			}
		case []any:
			for i, item := range v {
				if s, ok := item.(string); ok && looksLikeImageURL(s) {
					out = append(out, probed{url: s, field: fmt.Sprintf("%s[%d]", key, i)})
				}
			}
		case map[string]any:
			subs := maps.Keys(v)
			slices.Sort(subs)
			for _, sub := range subs {
				if s, ok := v[sub].(string); ok && looksLikeImageURL(s) {
					out = append(out, probed{url: s, field: key + "." + sub})
				}
			}
		}
	}
	return out
}

func modelName(gen *models.GenerationSettings) string {
	if gen.Extra == nil {
		return ""
	}
	if name, ok := gen.Extra["model_name"].(string); ok {
		return name
	}
	return ""
}

func dedupe(candidates []models.ImageDescriptor) []models.ImageDescriptor {
	seen := make(map[string]bool, len(candidates))
	out := make([]models.ImageDescriptor, 0, len(candidates))
	for _, c := range candidates {
		if c.URL == "" || IsThumbnail(c.URL) {
			continue
		}
		norm := Normalize(c.URL)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		c.NormalizedURL = norm
		out = append(out, c)
	}
	return out
}

// pairWindow is how far apart two generations may land and still count as
// one batch when their seeds differ.
const pairWindow = 2 * time.Second

// DetectPairs finds generation batches for the side-by-side comparison view.
// Two adjacent (chronological) generated images belong together when their
// prompts match and either their seeds match or their timestamps are within
// two seconds. Only runs of exactly two form a pair; three or more matching
// candidates are treated as unrelated.
func DetectPairs(descs []models.ImageDescriptor) [][2]int {
	// Indexes of generated descriptors, already in chronological order
	// because extraction follows message order.
	var gen []int
	for i, d := range descs {
		if d.Kind == models.KindGenerated && d.Generation != nil {
			gen = append(gen, i)
		}
	}

	var pairs [][2]int
	for i := 0; i < len(gen); {
		run := 1
		for i+run < len(gen) && sameBatch(descs[gen[i+run-1]], descs[gen[i+run]]) {
			run++
		}
		if run == 2 {
			pairs = append(pairs, [2]int{gen[i], gen[i+1]})
		}
		i += run
	}
	return pairs
}

func sameBatch(a, b models.ImageDescriptor) bool {
	if a.Generation.Prompt != b.Generation.Prompt {
		return false
	}
	if a.Generation.Seed == b.Generation.Seed {
		return true
	}
	gap := b.Timestamp.Sub(a.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	return gap <= pairWindow
}
