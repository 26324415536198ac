package lobby

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// randomCode generates a code in format "xxxx-xxxx" of lowercase
// ascii letters.
func randomCode() string {
	var b strings.Builder
	for i := 0; i < 9; i++ {
		if i == 4 {
			b.WriteByte('-')
			continue
		}
		b.WriteByte(byte('a' + rand.IntN(26)))
	}
	return b.String()
}

// GenerateInstanceName mints a unique replica id using the room code
// scheme: "SERVER-xxxx-xxxx".
func GenerateInstanceName() string {
	return "SERVER-" + randomCode()
}

// nextRoomName mints a fresh room name "room-IIII-xxxx-xxxx", where
// IIII is a per-process rolling counter.
func (c *Coordinator) nextRoomName() string {
	c.mu.Lock()
	seq := c.roomSeq
	c.roomSeq = (c.roomSeq + 1) % 10000
	c.mu.Unlock()
	return fmt.Sprintf("room-%04d-%s", seq, randomCode())
}
