package models

// Category is the label the policy classifier assigns to a message.
type Category string

const (
	CategoryOTP        Category = "otp"
	CategoryNoReply    Category = "no-reply"
	CategoryNewsletter Category = "newsletter"
	CategoryAutomated  Category = "automated"
	CategoryHuman      Category = "human"
)

// MessageContext is the provider-neutral view of an email used to build prompts.
type MessageContext struct {
	Key      string   `json:"key"`
	From     string   `json:"from"`
	Subject  string   `json:"subject"`
	Date     string   `json:"date"`
	Snippet  string   `json:"snippet,omitempty"`
	Body     string   `json:"body"`
	Category Category `json:"category,omitempty"`
}
