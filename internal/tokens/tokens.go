// Package tokens counts tokens for prompt assembly, grounded on the
// teacher's pkg/aitokens/tokenizer.go. The core's messages are plain
// role+content pairs rather than the OpenAI SDK's chat-completion union
// type, so the per-message accounting is reproduced directly against
// strings instead of against openai.ChatCompletionMessageParamUnion.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokensPerMessage is OpenAI's documented per-message overhead, constant
// across the GPT model family (see the OpenAI cookbook's chat token-counting
// recipe, the same source the teacher cites).
const tokensPerMessage = 3

// replyPrimerTokens accounts for the "<|start|>assistant<|message|>" tokens
// implicitly primed before every completion.
const replyPrimerTokens = 3

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*tiktoken.Tiktoken)
)

// encoderFor returns a cached tiktoken encoder for the given model name,
// falling back to cl100k_base for models tiktoken-go doesn't recognize.
func encoderFor(model string) (*tiktoken.Tiktoken, error) {
	cacheMu.RLock()
	if enc, ok := cache[model]; ok {
		cacheMu.RUnlock()
		return enc, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if enc, ok := cache[model]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	cache[model] = enc
	return enc, nil
}

// CountText returns the token count of a single string under the given
// model's encoding.
func CountText(text, model string) (int, error) {
	enc, err := encoderFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Message is the minimal role/content pair token counting needs; callers
// adapt eitypes.Message into this shape rather than this package importing
// eitypes, keeping the dependency direction pointing inward.
type Message struct {
	Role    string
	Content string
}

// CountMessages returns the total token count of a message list as it would
// be sent to the model, including per-message and reply-primer overhead.
func CountMessages(messages []Message, model string) (int, error) {
	enc, err := encoderFor(model)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(enc.Encode(msg.Content, nil, nil))
		total += len(enc.Encode(msg.Role, nil, nil))
	}
	total += replyPrimerTokens
	return total, nil
}
