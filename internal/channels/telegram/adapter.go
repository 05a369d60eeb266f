// Package telegram implements internal/channels' capability interfaces
// over go-telegram/bot, long-polling only. Grounded on
// internal/channels/telegram/adapter.go and bot_client.go, reduced from
// their reconnect-backoff/webhook-mode/media-attachment machinery (no
// component in SPEC_FULL.md calls for Telegram webhook delivery or media
// handling) down to the long-polling connect/dispatch/send path and the
// mockable BotClient interface that makes it testable.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/channels"
)

// BotClient is the subset of *bot.Bot the adapter calls, mockable in
// tests. Grounded on bot_client.go's BotClient interface, reduced to the
// text-message-only surface this adapter needs.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc)
	Start(ctx context.Context)
}

// Config configures the adapter.
type Config struct {
	Token  string
	Logger zerolog.Logger
}

// Adapter implements channels.Adapter over a long-polling Telegram bot.
type Adapter struct {
	config    Config
	botClient BotClient
	mu        sync.RWMutex
	status    channels.Status
	messages  chan channels.Message
	cancel    context.CancelFunc
	log       zerolog.Logger
}

// NewAdapter builds a Telegram adapter from config.
func NewAdapter(config Config) (*Adapter, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	return &Adapter{
		config:   config,
		messages: make(chan channels.Message, 100),
		log:      config.Logger.With().Str("adapter", "telegram").Logger(),
	}, nil
}

// SetBotClient injects a BotClient, primarily for tests.
func (a *Adapter) SetBotClient(client BotClient) { a.botClient = client }

func (a *Adapter) Type() channels.Type { return channels.TypeTelegram }

// Start creates the bot client if none was injected, registers the
// text-message handler, and begins long polling in a background
// goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status.Connected {
		return fmt.Errorf("telegram: adapter already started")
	}

	if a.botClient == nil {
		b, err := bot.New(a.config.Token)
		if err != nil {
			return fmt.Errorf("telegram: create bot: %w", err)
		}
		a.botClient = b
	}
	a.botClient.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleMessage)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		a.botClient.Start(runCtx)
		a.mu.Lock()
		a.status = channels.Status{Connected: false}
		close(a.messages)
		a.mu.Unlock()
	}()

	a.status = channels.Status{Connected: true}
	a.log.Info().Msg("telegram adapter started")
	return nil
}

// Stop cancels the long-polling loop; the goroutine started in Start
// observes the cancellation and closes the messages channel.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.status.Connected {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.log.Info().Msg("telegram adapter stopping")
	return nil
}

// Send delivers a reply to a chat, identified by msg.Identifier (the
// Telegram chat ID as a decimal string).
func (a *Adapter) Send(ctx context.Context, msg channels.Outbound) error {
	a.mu.RLock()
	connected := a.status.Connected
	client := a.botClient
	a.mu.RUnlock()
	if !connected || client == nil {
		return fmt.Errorf("telegram: adapter not connected")
	}
	chatID, err := strconv.ParseInt(msg.Identifier, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.Identifier, err)
	}
	_, err = client.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: msg.Content})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Messages returns the inbound message stream.
func (a *Adapter) Messages() <-chan channels.Message { return a.messages }

// Status reports the adapter's connection state.
func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// handleMessage converts a Telegram update into a channels.Message.
// Grounded on adapter.go's handleMessage.
func (a *Adapter) handleMessage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	msg := channels.Message{
		Channel:    channels.TypeTelegram,
		Identifier: strconv.FormatInt(update.Message.Chat.ID, 10),
		Content:    update.Message.Text,
	}
	select {
	case a.messages <- msg:
	default:
		a.log.Warn().Int64("chat_id", update.Message.Chat.ID).Msg("messages channel full, dropping message")
	}
}
