package channels

import (
	"context"
	"testing"
	"time"
)

type stubAdapter struct {
	typ      Type
	messages chan Message
	sent     []Outbound
	status   Status
}

func (s *stubAdapter) Type() Type                    { return s.typ }
func (s *stubAdapter) Messages() <-chan Message       { return s.messages }
func (s *stubAdapter) Status() Status                 { return s.status }
func (s *stubAdapter) Send(ctx context.Context, msg Outbound) error {
	s.sent = append(s.sent, msg)
	return nil
}
func (s *stubAdapter) Start(ctx context.Context) error { return nil }
func (s *stubAdapter) Stop(ctx context.Context) error  { return nil }

func TestRegistryRegisterIndexesOptionalCapabilities(t *testing.T) {
	r := NewRegistry()
	a := &stubAdapter{typ: TypeDiscord, messages: make(chan Message, 1), status: Status{Connected: true}}
	r.Register(a)

	out, ok := r.GetOutbound(TypeDiscord)
	if !ok {
		t.Fatalf("expected an outbound adapter for discord")
	}
	if err := out.Send(context.Background(), Outbound{Identifier: "x", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.sent) != 1 {
		t.Fatalf("sent = %+v, want one message", a.sent)
	}

	health := r.HealthAdapters()
	if len(health) != 1 {
		t.Fatalf("health = %+v, want one entry", health)
	}
}

func TestRegistryAggregateFansInAllAdapters(t *testing.T) {
	r := NewRegistry()
	discordAdapter := &stubAdapter{typ: TypeDiscord, messages: make(chan Message, 1)}
	telegramAdapter := &stubAdapter{typ: TypeTelegram, messages: make(chan Message, 1)}
	r.Register(discordAdapter)
	r.Register(telegramAdapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := r.Aggregate(ctx)

	discordAdapter.messages <- Message{Channel: TypeDiscord, Identifier: "d1", Content: "from discord"}
	telegramAdapter.messages <- Message{Channel: TypeTelegram, Identifier: "t1", Content: "from telegram"}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-out:
			seen[msg.Content] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for aggregated message %d", i)
		}
	}
	if !seen["from discord"] || !seen["from telegram"] {
		t.Fatalf("seen = %+v, want messages from both adapters", seen)
	}
}

func TestRegistryStartAllAndStopAll(t *testing.T) {
	r := NewRegistry()
	a := &stubAdapter{typ: TypeDiscord, messages: make(chan Message, 1)}
	r.Register(a)
	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
}
