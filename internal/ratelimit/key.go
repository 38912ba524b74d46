package ratelimit

import (
	"fmt"
	"strings"
)

// KeyForDecision builds a limiter key for the resolved scope.
func KeyForDecision(subscriberID uint64, clientIP string, decision Decision) string {
	if decision.Limit <= 0 {
		return ""
	}
	switch decision.Scope {
	case ScopeSubscriber:
		if subscriberID == 0 {
			return ""
		}
		return fmt.Sprintf("s:%d", subscriberID)
	case ScopeClient:
		clientIP = strings.TrimSpace(clientIP)
		if clientIP == "" {
			return ""
		}
		return "ip:" + clientIP
	default:
		return ""
	}
}
