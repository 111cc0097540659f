package routing

// Subscription declares interest in a subset of one message type's
// traffic: the binding key filters on the routing content.
type Subscription struct {
	MessageTypeID MessageTypeID `json:"message_type_id"`
	BindingKey    BindingKey    `json:"binding_key"`
}

// NewSubscription builds a subscription for a type with a binding key.
func NewSubscription(id MessageTypeID, key BindingKey) Subscription {
	return Subscription{MessageTypeID: id, BindingKey: key}
}

// SubscribeToAll builds a subscription matching every message of a type.
func SubscribeToAll(id MessageTypeID) Subscription {
	return Subscription{MessageTypeID: id, BindingKey: EmptyBindingKey}
}

// Matches reports whether a message of the given type with the given
// routing content is covered by this subscription.
//
// The empty binding key matches everything. A "#" token matches the
// whole remainder, "*" matches exactly one token. A key shorter or
// longer than the content (without a trailing "#") does not match.
func (s Subscription) Matches(id MessageTypeID, content RoutingContent) bool {
	if id != s.MessageTypeID {
		return false
	}
	if s.BindingKey.IsEmpty() {
		return true
	}
	for i := 0; i < content.PartCount(); i++ {
		token, ok := s.BindingKey.PartToken(i)
		if !ok {
			return false
		}
		if token == TokenSharp {
			return true
		}
		if token != TokenStar && token != content.Part(i) {
			return false
		}
	}
	if last, ok := s.BindingKey.PartToken(content.PartCount()); ok && last == TokenSharp && s.BindingKey.PartCount() == content.PartCount()+1 {
		return true
	}
	return content.PartCount() == s.BindingKey.PartCount()
}

// Key returns a canonical map key for deduplication. Structural
// equality of subscriptions is equality of keys.
func (s Subscription) Key() string {
	// The JSON array form keeps token boundaries, so dotted tokens and
	// the empty key versus "#" stay distinct.
	tokens, _ := s.BindingKey.MarshalJSON()
	return string(s.MessageTypeID) + "|" + string(tokens)
}

// Equals reports structural equality.
func (s Subscription) Equals(other Subscription) bool {
	return s.MessageTypeID == other.MessageTypeID && s.BindingKey.Equals(other.BindingKey)
}

// SubscriptionsForType groups the binding keys a peer holds for one
// message type. An empty (or nil) BindingKeys set is a removal signal:
// it clears the peer's dynamic subscriptions for that type.
type SubscriptionsForType struct {
	MessageTypeID MessageTypeID `json:"message_type_id"`
	BindingKeys   []BindingKey  `json:"binding_keys"`
}

// NewSubscriptionsForType groups binding keys under one type id.
func NewSubscriptionsForType(id MessageTypeID, keys ...BindingKey) SubscriptionsForType {
	return SubscriptionsForType{MessageTypeID: id, BindingKeys: keys}
}

// IsRemoval reports whether this entry removes the type's dynamic
// subscriptions rather than setting them. Nil and empty binding key
// sets are treated identically.
func (s SubscriptionsForType) IsRemoval() bool {
	return len(s.BindingKeys) == 0
}

// Subscriptions expands the grouped form into individual subscriptions.
func (s SubscriptionsForType) Subscriptions() []Subscription {
	if len(s.BindingKeys) == 0 {
		return nil
	}
	subs := make([]Subscription, len(s.BindingKeys))
	for i, key := range s.BindingKeys {
		subs[i] = Subscription{MessageTypeID: s.MessageTypeID, BindingKey: key}
	}
	return subs
}

// DedupeSubscriptions returns the unique subscriptions preserving first
// occurrence order.
func DedupeSubscriptions(subs []Subscription) []Subscription {
	if len(subs) <= 1 {
		return subs
	}
	seen := make(map[string]struct{}, len(subs))
	out := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		key := sub.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, sub)
	}
	return out
}
