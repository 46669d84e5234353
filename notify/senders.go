package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-eventhooks/core"
)

// InAppSender delivers to the in-app inbox. The notification row is the
// inbox entry, so sending only has to succeed for the row to be marked
// delivered.
type InAppSender struct{}

func (InAppSender) Channel() core.Channel {
	return core.ChannelInApp
}

func (InAppSender) Send(ctx context.Context, _ core.Message) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

// SenderRegistry maps channels to senders. The in-app sender is always
// present.
type SenderRegistry struct {
	mu      sync.RWMutex
	senders map[core.Channel]core.NotificationSender
}

func NewSenderRegistry(senders ...core.NotificationSender) (*SenderRegistry, error) {
	registry := &SenderRegistry{senders: map[core.Channel]core.NotificationSender{
		core.ChannelInApp: InAppSender{},
	}}
	for _, sender := range senders {
		if err := registry.Register(sender); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *SenderRegistry) Register(sender core.NotificationSender) error {
	if sender == nil {
		return fmt.Errorf("notify: sender is required")
	}
	channel := sender.Channel()
	if !channel.Valid() || channel == core.ChannelBoth {
		return fmt.Errorf("notify: sender channel %q is invalid", channel)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = sender
	return nil
}

func (r *SenderRegistry) Get(channel core.Channel) (core.NotificationSender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.senders[core.Channel(strings.TrimSpace(string(channel)))]
	return sender, ok
}

// For picks the sender for a recipient. Email falls back to in-app when no
// email sender is registered or the recipient has no address.
func (r *SenderRegistry) For(channel core.Channel, to core.Recipient) (core.NotificationSender, core.Channel) {
	if channel.Emails() {
		if sender, ok := r.Get(core.ChannelEmail); ok && strings.TrimSpace(to.Email) != "" {
			return sender, core.ChannelEmail
		}
		channel = core.ChannelInApp
	}
	if sender, ok := r.Get(channel); ok {
		return sender, channel
	}
	return InAppSender{}, core.ChannelInApp
}
