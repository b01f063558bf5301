package session

import (
	"math/rand/v2"
	"strings"
	"sync"

	"lockstep/pkg/types"
)

// Session code format: four uppercase letters, short enough to read off a
// screen and type on a gamepad keyboard.
const (
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	CodeLength   = 4
)

// CodeCapacity is the total number of distinct session codes (26^4).
const CodeCapacity = 26 * 26 * 26 * 26

// CodeRegistry allocates short session codes and maps each live code to its
// internal session id. Codes are unique among live sessions only; a closed
// session's code may be handed out again. Session ids are monotonic and never
// reused, so stale references cannot resolve to a newer session.
//
// The registry is process-wide shared state and carries its own lock;
// sessions otherwise share nothing.
type CodeRegistry struct {
	mu     sync.Mutex
	codes  map[types.SessionCode]types.SessionID
	ids    map[types.SessionID]types.SessionCode
	nextID types.SessionID
}

// NewCodeRegistry creates an empty code registry. Session ids start at 1 so
// the zero value never identifies a session.
func NewCodeRegistry() *CodeRegistry {
	return &CodeRegistry{
		codes:  make(map[types.SessionCode]types.SessionID),
		ids:    make(map[types.SessionID]types.SessionCode),
		nextID: 1,
	}
}

// Generate samples a code not currently registered, retrying on collision.
// Collisions are a fact of life at this code length (a few hundred live
// sessions already gives per-draw collision odds around 1 in 1000), so the
// draw loops until it finds a free code. Returns ErrCodeSpaceExhausted when
// every combination is live.
func (r *CodeRegistry) Generate() (types.SessionCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generateLocked()
}

// SeedIDs advances the id counter past lastUsed. Called at startup with the
// highest id in the audit trail so sessions hosted after a restart never
// repeat an id already persisted by an earlier run. Seeding backwards is a
// no-op; the counter only moves forward.
func (r *CodeRegistry) SeedIDs(lastUsed types.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lastUsed >= r.nextID {
		r.nextID = lastUsed + 1
	}
}

// Register binds code to a fresh session id.
func (r *CodeRegistry) Register(code types.SessionCode) (types.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.codes[code]; live {
		return 0, ErrCodeAlreadyRegistered
	}
	return r.registerLocked(code), nil
}

// Allocate generates and registers a code in one step, under one lock hold.
// This is the path the session manager uses; separate Generate/Register calls
// would leave a window for another allocator to claim the drawn code.
func (r *CodeRegistry) Allocate() (types.SessionCode, types.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.generateLocked()
	if err != nil {
		return "", 0, err
	}
	return code, r.registerLocked(code), nil
}

// Resolve looks up the session id for a live code.
func (r *CodeRegistry) Resolve(code types.SessionCode) (types.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.codes[code]
	return id, ok
}

// Release frees the code bound to id. Idempotent: releasing an unknown or
// already-released id is a no-op.
func (r *CodeRegistry) Release(id types.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.ids[id]
	if !ok {
		return
	}
	delete(r.ids, id)
	delete(r.codes, code)
}

// Count returns the number of live codes.
func (r *CodeRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

func (r *CodeRegistry) generateLocked() (types.SessionCode, error) {
	if len(r.codes) >= CodeCapacity {
		return "", ErrCodeSpaceExhausted
	}

	var b strings.Builder
	b.Grow(CodeLength)
	for {
		b.Reset()
		for i := 0; i < CodeLength; i++ {
			b.WriteByte(CodeAlphabet[rand.IntN(len(CodeAlphabet))])
		}
		code := types.SessionCode(b.String())
		if _, live := r.codes[code]; !live {
			return code, nil
		}
	}
}

func (r *CodeRegistry) registerLocked(code types.SessionCode) types.SessionID {
	id := r.nextID
	r.nextID++
	r.codes[code] = id
	r.ids[id] = code
	return id
}
