package slack

import "github.com/slack-go/slack"

// Message is the subset of a Slack message the sync pipeline works with.
type Message struct {
	TS         string
	ThreadTS   string
	User       string
	BotID      string
	SubType    string
	Text       string
	ReplyCount int
	Files      []File
	Reactions  []Reaction
}

// IsReply reports whether the message lives inside another message's thread.
func (m Message) IsReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

type File struct {
	ID          string
	Name        string
	Title       string
	Mimetype    string
	Filetype    string
	User        string
	Size        int
	Permalink   string
	DownloadURL string
	Created     int64
}

type Reaction struct {
	Name  string
	Users []string
}

func convertMessage(m slack.Message) Message {
	msg := Message{
		TS:         m.Timestamp,
		ThreadTS:   m.ThreadTimestamp,
		User:       m.User,
		BotID:      m.BotID,
		SubType:    m.SubType,
		Text:       m.Text,
		ReplyCount: m.ReplyCount,
	}

	for _, f := range m.Files {
		msg.Files = append(msg.Files, File{
			ID:          f.ID,
			Name:        f.Name,
			Title:       f.Title,
			Mimetype:    f.Mimetype,
			Filetype:    f.Filetype,
			User:        f.User,
			Size:        f.Size,
			Permalink:   f.Permalink,
			DownloadURL: f.URLPrivateDownload,
			Created:     int64(f.Created),
		})
	}

	for _, r := range m.Reactions {
		msg.Reactions = append(msg.Reactions, Reaction{Name: r.Name, Users: r.Users})
	}

	return msg
}

func convertMessages(msgs []slack.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertMessage(m))
	}
	return out
}
