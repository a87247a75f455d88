package router

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short, log-friendly request id.
func newReqID() string {
	n := ridSeq.Add(1)
	return base36(time.Now().UnixNano()) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}

// splitCommand separates "/name@bot rest of line" into the lower-cased
// command name and the untouched remainder.
func splitCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(word, "\n\t"); i >= 0 {
		rest = word[i+1:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(rest), true
}

// tokenize splits command arguments on whitespace while honoring quotes.
//
//	a "b c" 'd' => [a, b c, d]
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}
