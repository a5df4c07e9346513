// Package parser turns raw chat transcript lines into structured message
// records. Lines follow the export format
// "M/D/YY, H:MM - +<digits> <digits> <digits> <digits>: <content>".
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/chatpulse/chatpulse/internal/database"
)

var linePattern = regexp.MustCompile(
	`^(\d{1,2}/\d{1,2}/\d{2}),\s(\d{1,2}:\d{2})\s-\s(\+\d+\s\d+\s\d+\s\d+):\s(.*)`,
)

var mediaIndicators = []string{
	"<media omitted>",
	"image omitted",
	"video omitted",
	"audio omitted",
	"document omitted",
}

// ParsedMessage is one successfully parsed transcript line.
type ParsedMessage struct {
	Timestamp   time.Time
	PhoneNumber string
	Content     string
	MessageType database.MessageType
}

// Parser parses transcript lines, localizing timestamps to a fixed
// reference timezone. The zero value is not usable; construct with New.
type Parser struct {
	loc *time.Location
}

// New returns a Parser that interprets transcript timestamps in loc.
func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

// ParseLine parses a single transcript line. The second return value is
// false when the line does not match the expected format or its timestamp
// cannot be parsed; such lines are expected noise and carry no error.
func (p *Parser) ParseLine(line string) (ParsedMessage, bool) {
	match := linePattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return ParsedMessage{}, false
	}

	date, clock, phone, content := match[1], match[2], match[3], match[4]

	timestamp, err := time.ParseInLocation("1/2/06 15:04", date+" "+clock, p.loc)
	if err != nil {
		return ParsedMessage{}, false
	}

	return ParsedMessage{
		Timestamp:   timestamp,
		PhoneNumber: strings.TrimSpace(phone),
		Content:     strings.TrimSpace(content),
		MessageType: detectMessageType(content),
	}, true
}

// detectMessageType classifies content by media markers. A generic media
// marker without an image/video/audio/document keyword falls through to
// TEXT, matching the export format's behavior for unattributed media.
func detectMessageType(content string) database.MessageType {
	lower := strings.ToLower(content)

	indicated := false
	for _, indicator := range mediaIndicators {
		if strings.Contains(lower, indicator) {
			indicated = true
			break
		}
	}
	if !indicated {
		return database.MessageTypeText
	}

	switch {
	case strings.Contains(lower, "image"):
		return database.MessageTypeImage
	case strings.Contains(lower, "video"):
		return database.MessageTypeVideo
	case strings.Contains(lower, "audio"):
		return database.MessageTypeAudio
	case strings.Contains(lower, "document"):
		return database.MessageTypeDocument
	}
	return database.MessageTypeText
}
