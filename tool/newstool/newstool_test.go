package newstool

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestContainsAllCategories(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	date := time.Date(2026, time.August, 30, 10, 0, 0, 0, time.UTC)

	out := Digest(rng, "bristol", date)

	assert.True(t, strings.HasPrefix(out, "Local news for Bristol — 30 August 2026"))
	for _, name := range []string{"Top Headlines", "Corporate News", "Finance News", "Share Market News", "General News"} {
		assert.Contains(t, out, name+": ")
	}
	// templates substitute the title-cased place
	assert.Contains(t, out, "Bristol")
	assert.NotContains(t, out, "%s")
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "New York", titleCase("new york"))
	assert.Equal(t, "London", titleCase("LONDON"))
}

func TestToolRequiresLocation(t *testing.T) {
	news, err := New(rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)
	assert.Equal(t, "get_news", news.Name())

	out, err := news.Call(context.Background(), map[string]any{"location": ""})
	require.NoError(t, err)
	assert.Contains(t, out.(string), "which location")
}
