package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with the cl100k_base encoding. The encoding is
// loaded on first use; if it cannot be loaded every count reports !ok.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (c *TokenCounter) Count(text string) (int, bool) {
	if c == nil {
		return 0, false
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return 0, false
	}
	return len(c.enc.Encode(text, nil, nil)), true
}
