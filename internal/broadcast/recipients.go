package broadcast

import (
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// ParseRecipients extracts user ids from a comma (or whitespace) separated
// list. Tokens that are not integers are dropped and duplicates keep their
// first position.
func ParseRecipients(raw string) []int64 {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	ids := lo.FilterMap(tokens, func(tok string, _ int) (int64, bool) {
		id, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		return id, err == nil
	})
	return lo.Uniq(ids)
}
