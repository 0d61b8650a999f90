package slack

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/slack-go/slack"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

// NewInfoMessage builds a header plus text block with a plain fallback.
func NewInfoMessage(title, text string) slack.MsgOption {
	return buildMessage(":droplet: "+title, text, nil)
}

// NewAlertMessage builds a warning block with optional key/value fields.
func NewAlertMessage(title, text string, fields map[string]string) slack.MsgOption {
	return buildMessage(":warning: "+title, text, fields)
}

func buildMessage(title, text string, fields map[string]string) slack.MsgOption {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, true, false)),
	}
	var fieldObjs []*slack.TextBlockObject
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		fieldObjs = append(fieldObjs, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s*\n%s", k, fields[k]), false, false))
	}
	blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), fieldObjs, nil))
	return slack.MsgOptionCompose(
		slack.MsgOptionText(title+": "+text, false),
		slack.MsgOptionBlocks(blocks...),
	)
}

// StatusText renders a controller status for chat.
func StatusText(s irrigation.Status) string {
	text := ""
	for _, ch := range s.Channels {
		if ch.Active {
			text += fmt.Sprintf("• Channel %d: *running* (%s, %s left)\n", ch.Channel, ch.Source, ch.Remaining.Round(time.Second))
		} else {
			text += fmt.Sprintf("• Channel %d: idle\n", ch.Channel)
		}
	}
	if s.HasNext {
		text += fmt.Sprintf("Next scheduled run: %s\n", s.NextScheduled.Format("Mon 15:04"))
	} else {
		text += "No scheduled runs\n"
	}
	if !s.TimeValid {
		text += "Clock not synchronized, schedules suspended\n"
	}
	if s.LastError != "" {
		text += fmt.Sprintf("Last error: %s\n", s.LastError)
	}
	return text
}
