package export

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"

	"github.com/tanmoy/chatdump/pkg/models"
)

var markdown = goldmark.New()

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; background: #16181d; color: #e4e4e7; }
.message { border-radius: 8px; padding: 0.75rem 1rem; margin: 0.75rem 0; background: #23262e; }
.message.user { background: #2b3240; }
.author { font-weight: bold; margin-bottom: 0.25rem; }
.time { color: #8b8f98; font-size: 0.8rem; margin-left: 0.5rem; }
.message img { max-width: 100%%; border-radius: 6px; margin-top: 0.5rem; }
</style>
</head>
<body>
<h1>%s</h1>
`

// renderHTML writes a self-contained document, one div per message, message
// text rendered as markdown, generated images embedded as img tags pointing
// at the original remote URLs (not inlined).
func renderHTML(msgs []models.Message, meta Meta) ([]byte, error) {
	var buf bytes.Buffer

	title := html.EscapeString(meta.CharacterName)
	fmt.Fprintf(&buf, htmlHead, title, title)

	if meta.Greeting != "" {
		buf.WriteString(`<div class="message">` + "\n")
		fmt.Fprintf(&buf, `<div class="author">%s</div>`+"\n", title)
		if err := markdown.Convert([]byte(meta.Greeting), &buf); err != nil {
			return nil, fmt.Errorf("failed to render greeting: %w", err)
		}
		buf.WriteString("</div>\n")
	}

	for _, m := range msgs {
		class := "message"
		if !m.FromBot {
			class = "message user"
		}
		fmt.Fprintf(&buf, `<div class="%s">`+"\n", class)
		fmt.Fprintf(&buf, `<div class="author">%s<span class="time">%s</span></div>`+"\n",
			html.EscapeString(author(m, meta)), m.CreatedAt.Format("2006-01-02 15:04"))

		if err := markdown.Convert([]byte(m.Text), &buf); err != nil {
			return nil, fmt.Errorf("failed to render message %s: %w", m.ID, err)
		}

		for _, u := range messageImages(m) {
			fmt.Fprintf(&buf, `<img src="%s" loading="lazy">`+"\n", html.EscapeString(u))
		}
		buf.WriteString("</div>\n")
	}

	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}
