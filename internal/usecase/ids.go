package usecase

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewInvocationID returns a sortable ID for invocations that arrive without
// a Lambda request ID (local and serve modes).
func NewInvocationID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
