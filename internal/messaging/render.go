package messaging

import (
	"fmt"
	"strings"

	"github.com/BotLoom/BotLoom/internal/models"
)

// Render flattens one outbound message to the plain text a WhatsApp-style
// channel can carry. Options become a numbered list, carousels become titled
// blocks separated by blank lines.
func Render(m models.OutboundMessage) string {
	switch m.Type {
	case models.MessageTypeText:
		return m.Text
	case models.MessageTypeImage, models.MessageTypeVideo, models.MessageTypeDocument:
		if m.Text != "" {
			return m.Text + "\n" + m.URL
		}
		return m.URL
	case models.MessageTypeURL:
		if m.Text != "" {
			return m.Text + "\n" + m.URL
		}
		return m.URL
	case models.MessageTypeOptions:
		var b strings.Builder
		if m.Text != "" {
			b.WriteString(m.Text)
		}
		for i, opt := range m.Options {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%d. %s", i+1, opt)
		}
		return b.String()
	case models.MessageTypeCarousel:
		blocks := make([]string, 0, len(m.Items))
		for _, item := range m.Items {
			blocks = append(blocks, renderCarouselItem(item))
		}
		return strings.Join(blocks, "\n\n")
	default:
		return m.Text
	}
}

func renderCarouselItem(item models.CarouselItem) string {
	var b strings.Builder
	if item.Title != "" {
		b.WriteString("*" + item.Title + "*")
	}
	for _, line := range []string{item.Subtitle, item.Image, item.URL} {
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	for i, opt := range item.Options {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, opt)
	}
	return b.String()
}
