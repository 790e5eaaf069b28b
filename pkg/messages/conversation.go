package messages

// Conversation is a mutable, ordered container of entries owned by one
// logical invocation. The continuation accumulator appends model entries to
// it as merges complete, so callers can inspect partial progress after a
// failure. The zero value is ready to use.
// Conversation is not safe for concurrent use; callers must synchronize
// externally.
type Conversation struct {
	contents []Content
}

// NewConversation creates a Conversation pre-populated with the given entries.
func NewConversation(contents ...Content) *Conversation {
	return &Conversation{contents: contents}
}

// FromText creates a Conversation holding a single user text entry.
func FromText(prompt string) *Conversation {
	return NewConversation(NewText(RoleUser, prompt))
}

// Append adds one or more entries to the conversation.
func (c *Conversation) Append(contents ...Content) {
	c.contents = append(c.contents, contents...)
}

// Len returns the number of entries in the conversation.
func (c *Conversation) Len() int {
	return len(c.contents)
}

// At returns the entry at the given index.
// It panics if the index is out of range.
func (c *Conversation) At(index int) Content {
	return c.contents[index]
}

// Last returns the most recent entry and true, or a zero Content and false
// if the conversation is empty.
func (c *Conversation) Last() (Content, bool) {
	if len(c.contents) == 0 {
		return Content{}, false
	}
	return c.contents[len(c.contents)-1], true
}

// Contents returns a copy of all entries in the conversation.
func (c *Conversation) Contents() []Content {
	cp := make([]Content, len(c.contents))
	copy(cp, c.contents)
	return cp
}

// Clone returns a copy whose entries and part slices are independent of the
// original, so merges on one side are invisible to the other.
func (c *Conversation) Clone() *Conversation {
	cp := make([]Content, len(c.contents))
	for i, entry := range c.contents {
		parts := make([]Part, len(entry.Parts))
		copy(parts, entry.Parts)
		cp[i] = Content{Role: entry.Role, Parts: parts}
	}
	return &Conversation{contents: cp}
}

// MergeModelText appends a generated segment under the continuation merge
// rules: extend the last part of the last model entry when its thought flag
// matches, otherwise add a new part, otherwise open a new model entry.
func (c *Conversation) MergeModelText(text string, thought bool) {
	n := len(c.contents)
	if n == 0 || c.contents[n-1].Role != RoleModel {
		c.Append(Content{Role: RoleModel, Parts: []Part{{Text: text, Thought: thought}}})
		return
	}
	last := &c.contents[n-1]
	if m := len(last.Parts); m > 0 && last.Parts[m-1].IsText() && last.Parts[m-1].Thought == thought {
		last.Parts[m-1].Text += text
		return
	}
	last.Parts = append(last.Parts, Part{Text: text, Thought: thought})
}
