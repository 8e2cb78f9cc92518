package webhook

import (
	"encoding/json"
	"strings"

	"studynotify/internal/transport"
)

const (
	DefaultMaxImageChars = 15000
	DefaultMaxBodyBytes  = 20000

	// Images shorter than this are treated as absent.
	minImageChars = 100
)

type atSpec struct {
	IsAtAll bool `json:"isAtAll"`
}

type markdownBody struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type textBody struct {
	Content string `json:"content"`
}

type payload struct {
	MsgType  string        `json:"msgtype"`
	Markdown *markdownBody `json:"markdown,omitempty"`
	Text     *textBody     `json:"text,omitempty"`
	At       atSpec        `json:"at"`
}

// encode renders msg into the provider JSON body. The image is truncated to
// maxImage characters; if the body still exceeds maxBody it is rebuilt
// without the image. imageDropped reports that fallback.
func encode(msg transport.Message, maxImage, maxBody int) (body []byte, imageDropped bool, err error) {
	image := msg.Image
	if len(image) > maxImage {
		image = image[:maxImage]
	}
	body, err = json.Marshal(build(msg, image))
	if err != nil {
		return nil, false, &transport.Error{Kind: transport.ErrPayloadTooLarge, Op: "encode", Err: err}
	}
	if len(body) <= maxBody {
		return body, false, nil
	}
	if len(image) >= minImageChars {
		body, err = json.Marshal(build(msg, ""))
		if err != nil {
			return nil, false, &transport.Error{Kind: transport.ErrPayloadTooLarge, Op: "encode", Err: err}
		}
		if len(body) <= maxBody {
			return body, true, nil
		}
	}
	return nil, false, &transport.Error{
		Kind: transport.ErrPayloadTooLarge,
		Op:   "encode",
		Msg:  "message exceeds provider body limit without image",
	}
}

func build(msg transport.Message, image string) payload {
	if msg.Type == transport.Text {
		content := msg.Text
		if msg.Footer != "" {
			content += "\n" + msg.Footer
		}
		return payload{MsgType: "text", Text: &textBody{Content: content}}
	}

	var b strings.Builder
	b.WriteString(msg.Text)
	if len(image) >= minImageChars {
		if !strings.HasSuffix(msg.Text, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("**Snapshot:**\n")
		b.WriteString("[snapshot](data:image/png;base64,")
		b.WriteString(image)
		b.WriteString(")\n\n")
	}
	if msg.Footer != "" {
		b.WriteString("---\n*")
		b.WriteString(msg.Footer)
		b.WriteString("*\n")
	}
	title := msg.Title
	if title == "" {
		title = "Notification"
	}
	return payload{
		MsgType:  "markdown",
		Markdown: &markdownBody{Title: title, Text: b.String()},
	}
}
