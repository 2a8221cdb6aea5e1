package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionEntitledAt(t *testing.T) {
	expires := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	sub := Subscription{Active: true, ExpiresAt: expires}

	assert.True(t, sub.EntitledAt(expires.Add(-time.Nanosecond)))
	assert.False(t, sub.EntitledAt(expires))
	assert.False(t, sub.EntitledAt(expires.Add(time.Hour)))

	sub.Active = false
	assert.False(t, sub.EntitledAt(expires.Add(-time.Hour)))
}
