package cohere

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cohere-ai/cohere-go/v2/core"
	"github.com/stretchr/testify/require"
)

func TestTransientClassifiesAPIErrors(t *testing.T) {
	t.Parallel()

	require.True(t, Transient(core.NewAPIError(429, errors.New("rate limited"))))
	require.True(t, Transient(core.NewAPIError(503, errors.New("overloaded"))))
	require.True(t, Transient(context.DeadlineExceeded))

	require.False(t, Transient(core.NewAPIError(401, errors.New("bad key"))))
	require.False(t, Transient(core.NewAPIError(400, errors.New("bad request"))))
	require.False(t, Transient(errors.New("decode model output")))
	require.False(t, Transient(nil))
}

func TestJSONBlockStripsFencesAndProse(t *testing.T) {
	t.Parallel()

	raw := "Sure! Here is the JSON:\n```json\n{\"summary\": \"ok\"}\n```"
	require.Equal(t, `{"summary": "ok"}`, jsonBlock(raw))

	require.Equal(t, `{"a":1}`, jsonBlock(`{"a":1}`))
	require.Equal(t, "no json here", jsonBlock("no json here"))
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", truncate("short", 10))

	// Multibyte text cut at a rune boundary stays valid UTF-8.
	s := strings.Repeat("日本語", 10)
	got := truncate(s, 7)
	require.Equal(t, 7, utf8.RuneCountInString(got))
	require.True(t, utf8.ValidString(got))
	require.Equal(t, "日本語日本語日", got)
}

func TestNewHTTPClientTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, 60*time.Second, newHTTPClient(0).Timeout)
	require.Equal(t, 10*time.Second, newHTTPClient(10*time.Second).Timeout)
}
