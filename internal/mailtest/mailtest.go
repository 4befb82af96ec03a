// Package mailtest provides a recording mail.Sender for package tests.
package mailtest

import (
	"context"
	"sync"
)

// Message is one recorded send.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender records every send and can be made to fail on demand.
type Sender struct {
	mu   sync.Mutex
	sent []Message

	// Err, when non-nil, is returned by every Send.
	Err error
}

// Send implements mail.Sender.
func (s *Sender) Send(_ context.Context, to, subject, body string) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Message{To: to, Subject: subject, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (s *Sender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
