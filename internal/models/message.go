// Package models defines the outbound message shapes produced by the engine.
package models

// MessageType discriminates the outbound message variants a channel adapter
// can deliver.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeDocument MessageType = "document"
	MessageTypeURL      MessageType = "url"
	MessageTypeOptions  MessageType = "options"
	MessageTypeCarousel MessageType = "carousel"
)

// CarouselItem is one card of a carousel message, assembled from a contiguous
// run of SendItem webhook actions.
type CarouselItem struct {
	Title    string   `json:"title,omitempty"`
	Subtitle string   `json:"subtitle,omitempty"`
	Image    string   `json:"image,omitempty"`
	URL      string   `json:"url,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// OutboundMessage is one message produced by a turn, in delivery order.
// Only the fields relevant to Type are populated.
type OutboundMessage struct {
	Type    MessageType    `json:"type"`
	Text    string         `json:"text,omitempty"`
	URL     string         `json:"url,omitempty"`
	Options []string       `json:"options,omitempty"`
	Items   []CarouselItem `json:"items,omitempty"`
}

// TextMessage builds a plain text outbound message.
func TextMessage(text string) OutboundMessage {
	return OutboundMessage{Type: MessageTypeText, Text: text}
}

// MediaMessage builds an image, video, or document message from a media type
// name; unrecognized names degrade to image.
func MediaMessage(mediaType, url string) OutboundMessage {
	switch mediaType {
	case "video":
		return OutboundMessage{Type: MessageTypeVideo, URL: url}
	case "document":
		return OutboundMessage{Type: MessageTypeDocument, URL: url}
	default:
		return OutboundMessage{Type: MessageTypeImage, URL: url}
	}
}

// URLMessage builds a link message with anchor text.
func URLMessage(text, url string) OutboundMessage {
	return OutboundMessage{Type: MessageTypeURL, Text: text, URL: url}
}

// OptionsMessage builds a selectable options list message.
func OptionsMessage(options []string) OutboundMessage {
	return OutboundMessage{Type: MessageTypeOptions, Options: options}
}

// CarouselMessage builds a carousel from its cards.
func CarouselMessage(items []CarouselItem) OutboundMessage {
	return OutboundMessage{Type: MessageTypeCarousel, Items: items}
}

// InboundMessage is one end-user message received from a channel adapter,
// before it is shaped into a TurnRequest.
type InboundMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
