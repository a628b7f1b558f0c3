// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package destination

// Payload represents a chat webhook message payload
type Payload struct {
	Text        string       `json:"text"`
	Username    string       `json:"username,omitempty"`
	IconURL     string       `json:"icon_url,omitempty"`
	Channel     string       `json:"channel,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a message attachment made of fields
type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Fields []Field `json:"fields"`
}

// Field represents a titled value inside an attachment
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

const descriptionTitle = "Description"

// applyOptions copies the non-empty presentation options into the payload.
func (p *Payload) applyOptions(opts Options) {
	if opts.Username != "" {
		p.Username = opts.Username
	}
	if opts.IconURL != "" {
		p.IconURL = opts.IconURL
	}
	if opts.Channel != "" {
		p.Channel = opts.Channel
	}
}

// descriptionAttachment builds the single attachment carrying the rendered
// alert description.
func descriptionAttachment(color, description string) []Attachment {
	return []Attachment{
		{
			Color: color,
			Fields: []Field{
				{Title: descriptionTitle, Value: description},
			},
		},
	}
}
