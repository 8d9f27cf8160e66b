package dispatch

import (
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/lugondev/go-chat-relay-web3/internal/listener"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

const (
	mentionEveryone = "@everyone"
	unknownSender   = "Unknown"
	directChatTitle = "DM"
)

func codeblock(s string) string {
	return "`" + s + "`"
}

// Render returns the message text with inline hyperlinks written as markdown links
func Render(msg *models.Message) string {
	if msg == nil || msg.Text == "" {
		return ""
	}

	links := make([]models.Entity, 0, len(msg.Entities))
	for _, e := range msg.Entities {
		if e.Type == models.EntityTextURL && e.URL != "" && e.Length > 0 {
			links = append(links, e)
		}
	}
	if len(links) == 0 {
		return msg.Text
	}
	sort.SliceStable(links, func(i, j int) bool { return links[i].Offset < links[j].Offset })

	units := utf16.Encode([]rune(msg.Text))
	var b strings.Builder
	pos := 0
	for _, e := range links {
		end := e.Offset + e.Length
		if e.Offset < pos || end > len(units) {
			continue
		}
		b.WriteString(string(utf16.Decode(units[pos:e.Offset])))
		b.WriteString("[")
		b.WriteString(string(utf16.Decode(units[e.Offset:end])))
		b.WriteString("](")
		b.WriteString(e.URL)
		b.WriteString(")")
		pos = end
	}
	b.WriteString(string(utf16.Decode(units[pos:])))
	return b.String()
}

// quote renders the reply block: the author's name and the reply content,
// block-quoted line by line.
func quote(author *models.User, reply *models.Message) string {
	name := author.FirstName
	if name == "" {
		name = author.DisplayName()
	}
	block := "> " + codeblock(name+":") + " " + Render(reply)
	return strings.ReplaceAll(block, "\n", "\n> ")
}

func forwardedLine(fwd *models.Forward) string {
	name := fwd.SenderUsername
	if name == "" {
		name = unknownSender
	}
	return "__**Forwarded from " + name + "**__"
}

// body is the sender prefix followed by the rendered message
func body(msg *models.Message, d *listener.Decision) string {
	prefix := ""
	if !d.Rule.ShowUser {
		name := ""
		if msg.Sender != nil {
			name = msg.Sender.FirstName
		}
		if name == "" && msg.Chat != nil {
			name = msg.Chat.Title
		}
		prefix = codeblock(name + ":")
	}
	return prefix + " " + Render(msg)
}

// replyBlock returns the quoted reply, or "" when there is nothing to quote
func replyBlock(msg *models.Message, d *listener.Decision) string {
	if d.ReplyAuthor == nil || !d.HasReply {
		return ""
	}
	return quote(d.ReplyAuthor, msg.Reply)
}

// content assembles the primary block
func content(msg *models.Message, d *listener.Decision, reply string) string {
	lines := make([]string, 0, 4)
	if d.Rule.Mention {
		lines = append(lines, mentionEveryone)
	}
	if msg.Forward != nil {
		lines = append(lines, forwardedLine(msg.Forward))
	}
	if !d.EmbedReply && d.ShowReply && reply != "" {
		lines = append(lines, reply)
	}
	lines = append(lines, body(msg, d))
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// username is the display name the webhook posts under
func username(msg *models.Message, d *listener.Decision) string {
	r := d.Rule
	if r.Name != "" {
		return r.Name
	}

	title := ""
	if msg.Chat != nil {
		title = msg.Chat.Title
	}

	if r.ShowUser {
		who := msg.Sender
		if r.UseReplyUserInsteadOfAuthor {
			who = d.ReplyAuthor
		}
		name := unknownSender
		if who != nil && who.Username != "" {
			name = who.Username
		}
		if title == "" {
			title = directChatTitle
		}
		return name + " | " + title
	}

	if d.Topology == listener.TopologyForum && r.IncludeForumChannelName && d.Channel != nil && d.Channel.Name != "" {
		return title + " -> " + d.Channel.Name
	}
	return title
}
