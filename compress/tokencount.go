package compress

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts and slices tokens. The tiktoken encoding downloads
// its data file on first use, so a counter must keep working when the
// encoding cannot be initialized (offline hosts); it then falls back to a
// rune-based approximation.
type TokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTokenCounter creates a counter for the given tiktoken encoding.
// Empty defaults to cl100k_base.
func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TokenCounter{encoding: encoding}
}

func (c *TokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// approxCharsPerToken is the fallback estimate when tiktoken data is not
// available.
const approxCharsPerToken = 4

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := c.init(); err != nil {
		return (utf8.RuneCountInString(text) + approxCharsPerToken - 1) / approxCharsPerToken
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Head returns the longest prefix of text that fits within budget tokens.
// A budget of zero or less returns the empty string.
func (c *TokenCounter) Head(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if err := c.init(); err != nil {
		limit := budget * approxCharsPerToken
		runes := []rune(text)
		if len(runes) <= limit {
			return text
		}
		return string(runes[:limit])
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return c.enc.Decode(tokens[:budget])
}

// Name identifies the counter for logs.
func (c *TokenCounter) Name() string {
	return fmt.Sprintf("tiktoken[%s]", c.encoding)
}
