package routing

import (
	"fmt"
)

// RoutingContent is the ordered sequence of routing values extracted
// from a concrete message, one part per declared routing member.
type RoutingContent struct {
	parts []string
}

// NewContent builds routing content from explicit parts, in order.
func NewContent(parts ...string) RoutingContent {
	if len(parts) == 0 {
		return RoutingContent{}
	}
	copied := make([]string, len(parts))
	copy(copied, parts)
	return RoutingContent{parts: copied}
}

// ContentFromMessage extracts the routing members of msg in declaration
// order. Enum-like values render by name through fmt.Stringer, booleans
// as "True"/"False", missing (nil) members as the empty string.
func ContentFromMessage(msg any, desc *MessageTypeDescriptor) RoutingContent {
	if desc == nil || len(desc.RoutingMembers) == 0 {
		return RoutingContent{}
	}
	parts := make([]string, len(desc.RoutingMembers))
	for i, member := range desc.RoutingMembers {
		if member.Get == nil {
			continue
		}
		parts[i] = formatRoutingValue(member.Get(msg))
	}
	return RoutingContent{parts: parts}
}

// formatRoutingValue converts a raw routing member value to its wire
// token form.
func formatRoutingValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		if value {
			return "True"
		}
		return "False"
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}

// PartCount returns the number of routing parts.
func (rc RoutingContent) PartCount() int {
	return len(rc.parts)
}

// Part returns the value at position i; empty string when out of range.
func (rc RoutingContent) Part(i int) string {
	if i < 0 || i >= len(rc.parts) {
		return ""
	}
	return rc.parts[i]
}

// Parts returns a copy of the parts in order.
func (rc RoutingContent) Parts() []string {
	if len(rc.parts) == 0 {
		return nil
	}
	copied := make([]string, len(rc.parts))
	copy(copied, rc.parts)
	return copied
}

// IsEmpty reports whether the content carries no parts.
func (rc RoutingContent) IsEmpty() bool {
	return len(rc.parts) == 0
}

// String joins the parts with dots for logging.
func (rc RoutingContent) String() string {
	out := ""
	for i, part := range rc.parts {
		if i > 0 {
			out += "."
		}
		out += part
	}
	return out
}
