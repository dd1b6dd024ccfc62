package accesstool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/refstore"
	"github.com/deskmate-ai/deskmate/tool"
)

var testNow = func() time.Time {
	return time.Date(2026, time.August, 30, 9, 0, 0, 0, time.UTC)
}

func newTools(t *testing.T) (raise, status tool.Tool) {
	t.Helper()
	tools, err := Tools(refstore.NewMemoryStore(), testNow)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	return tools[0], tools[1]
}

func callRaise(t *testing.T, raise tool.Tool, args map[string]any) string {
	t.Helper()
	out, err := raise.Call(context.Background(), args)
	require.NoError(t, err)
	text, ok := out.(string)
	require.True(t, ok)
	return text
}

func TestRaiseListsGroupsWhenMissing(t *testing.T) {
	raise, _ := newTools(t)

	out := callRaise(t, raise, map[string]any{"employee": "e12345"})
	assert.Contains(t, out, "Which group")
	assert.Contains(t, out, "prod-db-readonly")
	assert.Contains(t, out, "finance-reports")
}

func TestRaiseRejectsUnknownGroup(t *testing.T) {
	raise, _ := newTools(t)

	out := callRaise(t, raise, map[string]any{"employee": "e12345", "ad_group": "domain-admins"})
	assert.Contains(t, out, `"domain-admins" is not a group`)
	assert.Contains(t, out, "Available groups:")
}

func TestRaiseDateValidation(t *testing.T) {
	raise, _ := newTools(t)
	base := map[string]any{"employee": "e12345", "ad_group": "prod-deploy"}

	with := func(start, end string) map[string]any {
		args := map[string]any{"start_date": start, "end_date": end}
		for k, v := range base {
			args[k] = v
		}
		return args
	}

	assert.Contains(t, callRaise(t, raise, base), "both a start date and an end date")
	assert.Contains(t, callRaise(t, raise, with("next tuesday", "2026-09-10")), "YYYY-MM-DD")
	assert.Contains(t, callRaise(t, raise, with("2026-08-30", "2026-09-10")), "must be in the future")
	assert.Contains(t, callRaise(t, raise, with("2026-09-10", "2026-09-05")), "on or after the start date")
	assert.Contains(t, callRaise(t, raise, with("2026-09-01", "2026-10-15")), "limited to 30 days")
}

func TestRaiseAndStatus(t *testing.T) {
	raise, status := newTools(t)

	out := callRaise(t, raise, map[string]any{
		"employee":   "e12345",
		"ad_group":   "Prod-DB-ReadOnly",
		"start_date": "2026-09-01",
		"end_date":   "2026-09-14",
		"reason":     "incident investigation",
	})
	assert.Contains(t, out, "pending approval")
	assert.Contains(t, out, "E12345")

	// the reference is the token starting with the kind prefix
	var ref string
	for _, word := range strings.Fields(out) {
		if strings.HasPrefix(word, "ACCESS-") {
			ref = word
		}
	}
	require.NotEmpty(t, ref, "no reference in %q", out)

	statusOut, err := status.Call(context.Background(), map[string]any{"reference": ref})
	require.NoError(t, err)
	text := statusOut.(string)
	assert.Contains(t, text, "Status: Pending Approval")
	assert.Contains(t, text, "Group: prod-db-readonly")
	assert.Contains(t, text, "Window: 2026-09-01 to 2026-09-14")
}

func TestStatusUnknownReference(t *testing.T) {
	_, status := newTools(t)

	out, err := status.Call(context.Background(), map[string]any{"reference": "ACCESS-deadbeef"})
	require.NoError(t, err)
	assert.Equal(t, "No access request was found with that reference.", out)
}
