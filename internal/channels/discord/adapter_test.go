package discord

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/channels"
)

type fakeSession struct {
	opened    bool
	closed    bool
	sent      []string
	sentTo    []string
	handlers  []interface{}
	sendError error
}

func (f *fakeSession) Open() error  { f.opened = true; return nil }
func (f *fakeSession) Close() error { f.closed = true; return nil }
func (f *fakeSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendError != nil {
		return nil, f.sendError
	}
	f.sentTo = append(f.sentTo, channelID)
	f.sent = append(f.sent, content)
	return &discordgo.Message{}, nil
}
func (f *fakeSession) AddHandler(handler interface{}) func() {
	f.handlers = append(f.handlers, handler)
	return func() {}
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeSession) {
	t.Helper()
	a, err := NewAdapter(Config{Token: "test-token", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	fs := &fakeSession{}
	a.session = fs
	return a, fs
}

func TestAdapterStartOpensSessionAndRegistersHandler(t *testing.T) {
	a, fs := newTestAdapter(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !fs.opened {
		t.Fatalf("expected the session to be opened")
	}
	if len(fs.handlers) != 1 {
		t.Fatalf("handlers = %d, want 1", len(fs.handlers))
	}
	if !a.Status().Connected {
		t.Fatalf("expected Status().Connected after Start")
	}
}

func TestAdapterSendRequiresConnection(t *testing.T) {
	a, _ := newTestAdapter(t)
	err := a.Send(context.Background(), channels.Outbound{Identifier: "chan-1", Content: "hi"})
	if err == nil {
		t.Fatalf("expected an error sending before Start")
	}
}

func TestAdapterSendDeliversToSession(t *testing.T) {
	a, fs := newTestAdapter(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Send(context.Background(), channels.Outbound{Identifier: "chan-1", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fs.sent) != 1 || fs.sent[0] != "hi" || fs.sentTo[0] != "chan-1" {
		t.Fatalf("fakeSession = %+v, want one message hi to chan-1", fs)
	}
}

func TestAdapterStopClosesSessionAndMessageChannel(t *testing.T) {
	a, fs := newTestAdapter(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !fs.closed {
		t.Fatalf("expected the session to be closed")
	}
	if _, ok := <-a.Messages(); ok {
		t.Fatalf("expected the messages channel to be closed after Stop")
	}
}

func TestHandleMessageCreateIgnoresBotsAndEnqueuesOthers(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "chan-1", Content: "hello", Author: &discordgo.User{Bot: true},
	}})
	select {
	case <-a.messages:
		t.Fatalf("a bot message should not be enqueued")
	default:
	}

	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "chan-1", Content: "hello", Author: &discordgo.User{Bot: false},
	}})
	msg := <-a.messages
	if msg.Identifier != "chan-1" || msg.Content != "hello" {
		t.Fatalf("msg = %+v, want identifier chan-1 content hello", msg)
	}
}
