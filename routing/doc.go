// Package routing provides the routing data model for the peer bus:
// peer identity, message type identifiers, binding keys, routing content
// and the subscription matcher.
//
// # Binding keys
//
// A binding key is an ordered sequence of tokens matched position by
// position against the routing content extracted from a message:
//
//   - a literal token matches only itself
//   - "*" matches any single token at its position
//   - "#" matches the remainder of the content (must be the last token)
//   - the empty binding key matches every routing content of its type
//
// Example:
//
//	sub := routing.NewSubscription("Abc.Orders.OrderPlaced", routing.MustBindingKey("orders.*.eu"))
//	sub.Matches("Abc.Orders.OrderPlaced", routing.NewContent("orders", "created", "eu")) // true
//	sub.Matches("Abc.Orders.OrderPlaced", routing.NewContent("orders", "created", "us")) // false
//
// # Subscription matching
//
// SubscriptionTree is a two-level index: an outer map keyed by message
// type, and per type a token trie with a distinguished wildcard branch.
// Lookup walks the literal branch and the "*" branch at every position,
// terminating at "#" markers or at terminals whose depth equals the
// content length. Results are deduplicated. Static and dynamic
// subscriptions are indexed in separate sub-trees so that static-only
// lookups never touch dynamic state.
package routing
