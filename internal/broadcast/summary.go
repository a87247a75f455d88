package broadcast

import (
	"fmt"
	"strconv"
	"strings"
)

// Summary renders the messages posted after a run. Completed runs produce
// the completion notice followed by the sent and failed lists (each only
// when non-empty).
func Summary(res Result) []string {
	switch res.State {
	case StateCancelled:
		out := []string{"🛑 Broadcast cancelled successfully."}
		if res.Outcome.Processed() > 0 {
			out = append(out, fmt.Sprintf("Processed %d of %d users before stopping.\n✅ Sent: %d\n❌ Failed: %d",
				res.Outcome.Processed(), res.Total, len(res.Outcome.Sent), len(res.Outcome.Failed)))
		}
		return out
	case StateFailed:
		return []string{"❌ An error occurred during broadcast."}
	}

	out := []string{"📬 Broadcast completed!"}
	if n := len(res.Outcome.Sent); n > 0 {
		out = append(out, fmt.Sprintf("✅ Successfully sent to %d users: %s", n, joinIDs(res.Outcome.Sent)))
	}
	if n := len(res.Outcome.Failed); n > 0 {
		out = append(out, fmt.Sprintf("❌ Failed to send to %d users: %s", n, joinIDs(res.Outcome.Failed)))
	}
	return out
}

func joinIDs(ids []int64) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}
