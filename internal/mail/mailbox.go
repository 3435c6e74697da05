package mail

import (
	"sort"
)

// Mailbox is an immutable, ordered snapshot of an identity's messages.
// Messages are unique by ID and sorted newest first, ties broken by ID.
type Mailbox struct {
	messages []Message
	index    map[string]int
}

// NewMailbox builds a snapshot from msgs. Later duplicates of an ID are
// dropped.
func NewMailbox(msgs []Message) *Mailbox {
	seen := make(map[string]bool, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	sortMessages(out)
	return newMailboxSorted(out)
}

func newMailboxSorted(msgs []Message) *Mailbox {
	idx := make(map[string]int, len(msgs))
	for i, m := range msgs {
		idx[m.ID] = i
	}
	return &Mailbox{messages: msgs, index: idx}
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.After(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// Messages returns a copy of the snapshot's messages.
func (m *Mailbox) Messages() []Message {
	if m == nil {
		return nil
	}
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages.
func (m *Mailbox) Len() int {
	if m == nil {
		return 0
	}
	return len(m.messages)
}

// Find returns the message with the given ID.
func (m *Mailbox) Find(id string) (Message, bool) {
	if m == nil {
		return Message{}, false
	}
	i, ok := m.index[id]
	if !ok {
		return Message{}, false
	}
	return m.messages[i], true
}

// Unread counts received messages not yet marked read.
func (m *Mailbox) Unread() int {
	n := 0
	for _, msg := range m.Messages() {
		if msg.Direction == DirectionReceived && !msg.Read {
			n++
		}
	}
	return n
}

// With returns a snapshot that also contains msg. If the ID is already
// present the receiver is returned unchanged.
func (m *Mailbox) With(msg Message) *Mailbox {
	if _, ok := m.Find(msg.ID); ok {
		return m
	}
	msgs := append(m.Messages(), msg)
	sortMessages(msgs)
	return newMailboxSorted(msgs)
}

// WithRead returns a snapshot in which id is marked read.
func (m *Mailbox) WithRead(id string) *Mailbox {
	if m == nil {
		return nil
	}
	i, ok := m.index[id]
	if !ok || m.messages[i].Read {
		return m
	}
	msgs := m.Messages()
	msgs[i].Read = true
	return newMailboxSorted(msgs)
}
