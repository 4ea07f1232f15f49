// Package securemem keeps access tokens in locked, non-swappable memory
// for as long as a remote client holds them.
package securemem

import (
	"crypto/subtle"
	"sync"

	"github.com/awnumar/memguard"
)

// Token is an access token held in a memguard LockedBuffer. The zero value
// and a nil *Token are empty.
type Token struct {
	mu  sync.RWMutex
	buf *memguard.LockedBuffer
}

// NewToken copies value into locked memory.
func NewToken(value string) *Token {
	if value == "" {
		return &Token{}
	}
	return &Token{buf: memguard.NewBufferFromBytes([]byte(value))}
}

// Reveal returns a plaintext copy in ordinary memory. Use it only at the
// point of sending the token, never to store it.
func (t *Token) Reveal() string {
	if t == nil {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.buf == nil || !t.buf.IsAlive() {
		return ""
	}
	return string(t.buf.Bytes())
}

// IsEmpty reports whether the token holds no value or was destroyed.
func (t *Token) IsEmpty() bool {
	if t == nil {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.buf == nil || !t.buf.IsAlive() || t.buf.Size() == 0
}

// Equal compares in constant time.
func (t *Token) Equal(other string) bool {
	return subtle.ConstantTimeCompare([]byte(t.Reveal()), []byte(other)) == 1
}

// Destroy wipes the token. It is safe to call more than once.
func (t *Token) Destroy() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buf != nil {
		t.buf.Destroy()
		t.buf = nil
	}
}

// String never prints the secret.
func (t *Token) String() string {
	if t.IsEmpty() {
		return "Token(empty)"
	}
	return "Token(redacted)"
}

// Purge wipes all locked buffers. Call it on shutdown.
func Purge() {
	memguard.Purge()
}
