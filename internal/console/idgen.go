package console

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const conversationPrefix = "conv-"

// IDGenerator hands out session and conversation ids. It never fails: when
// the secure random source errors, conversation ids fall back to math/rand.
type IDGenerator struct {
	mu     sync.Mutex
	random func() (uuid.UUID, error)
	weak   *rand.Rand
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		random: uuid.NewRandom,
		weak:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SessionID returns a fresh ULID. ulid.Make is monotonic within the process,
// so ids are never reused.
func (g *IDGenerator) SessionID() string {
	return ulid.Make().String()
}

func (g *IDGenerator) ConversationID() string {
	id, err := g.random()
	if err != nil {
		id = g.fallback()
	}
	return conversationPrefix + id.String()
}

func (g *IDGenerator) fallback() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var id uuid.UUID
	for i := range id {
		id[i] = byte(g.weak.Intn(256))
	}
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}
