// Package protocol defines the data-channel message protocol between the
// remote agent and the voicecart client core: the topic-tagged inbound
// message union and the tolerant decoder that produces it.
package protocol

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/darkwings/voicecart/pkg/core"
)

// Topics classifying inbound data-channel messages.
const (
	TopicCartUpdate = "cart:update"
	TopicOrder      = "order"
)

// CartEntry is one raw cart line as received over the wire: a catalog SKU
// plus a quantity. Entries are kept in arrival order and never merged.
type CartEntry struct {
	Code   string `json:"code"`
	Amount int    `json:"amount"`
}

// RawCart is the minimal cart representation the agent sends. Each
// cart:update message carries a full snapshot that replaces the previous
// cart wholesale; it is not a delta patch.
type RawCart []CartEntry

// Message is the closed union of decoded inbound messages.
type Message interface {
	messageTopic() string
}

// CartUpdated carries a full-replace cart snapshot.
type CartUpdated struct {
	Cart RawCart
}

func (CartUpdated) messageTopic() string { return TopicCartUpdate }

// OrderCompleted signals that the agent finalized the order.
type OrderCompleted struct{}

func (OrderCompleted) messageTopic() string { return TopicOrder }

// cartPayload is the in-payload shape of a data-channel message. The agent
// sends {topic, type, cart}; only topic and cart matter here.
type cartPayload struct {
	Topic string          `json:"topic"`
	Cart  json.RawMessage `json:"cart"`
}

// Decode turns a raw data-channel payload plus its optional out-of-band
// topic tag into a decoded message. It never panics and never propagates a
// hard error: a nil message means the payload was dropped, and the returned
// error (if any) is a diagnostic for the caller's log only.
//
// Topic resolution follows the wire contract: the out-of-band tag wins; an
// in-payload "topic" field is the fallback. An "order" topic short-circuits
// before any cart-shaped inspection, so a message is never interpreted as
// both an order and a cart update.
func Decode(payload []byte, topic string) (Message, error) {
	// Order completion is signaled by the tag alone; the payload contents
	// are irrelevant and may be empty or malformed.
	if topic == TopicOrder {
		return OrderCompleted{}, nil
	}
	if topic != "" && topic != TopicCartUpdate {
		return nil, nil
	}

	if !utf8.Valid(payload) {
		return nil, core.NewProtocolError("data payload is not valid UTF-8")
	}

	var data cartPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, core.NewProtocolError("non-JSON data-channel message: " + err.Error())
	}

	resolved := topic
	if resolved == "" {
		resolved = data.Topic
	}

	switch resolved {
	case TopicOrder:
		return OrderCompleted{}, nil
	case TopicCartUpdate:
		// The cart field must be a sequence. An absent field and an explicit
		// null both fail that, and neither may clear the user's cart.
		if data.Cart == nil || string(data.Cart) == "null" {
			return nil, nil
		}
		var cart RawCart
		if err := json.Unmarshal(data.Cart, &cart); err != nil {
			return nil, core.NewProtocolError("cart field is not a cart sequence: " + err.Error())
		}
		return CartUpdated{Cart: cart}, nil
	default:
		return nil, nil
	}
}
