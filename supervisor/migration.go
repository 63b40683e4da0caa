package supervisor

// migration holds the in-flight state for an engine-to-engine transfer.
// Its presence (a non-nil *migration on the Supervisor) is itself the
// "Migrating" half of spec.md section 4's "Idle | Migrating{source,
// destination, cursor}" state; a nil migration is "Idle". pending is a
// snapshot of src's keys taken when the migration began; cursor indexes
// into it. Keys transferred directly by an intervening Put (src has the
// key, write lands in dst, src loses it) are skipped when cursor reaches
// them, since src.get will already report them absent.
type migration struct {
	src     engine
	dst     engine
	pending [][]byte
	cursor  int
	cancel  bool
}

func beginMigration(src, dst engine) *migration {
	pending := make([][]byte, 0, src.length())
	src.each(func(key, _ []byte) bool {
		pending = append(pending, key)
		return false
	})
	return &migration{src: src, dst: dst, pending: pending}
}

// step transfers up to batch entries from src to dst, per spec.md
// section 4.6: "every mutator op, before acting, transfers batch entries
// from src to dst starting at cursor." Returns true once the migration
// has fully drained (cursor exhausted and src is empty).
func (m *migration) step(batch int) bool {
	if m.cancel {
		return true
	}
	for i := 0; i < batch && m.cursor < len(m.pending); i++ {
		key := m.pending[m.cursor]
		m.cursor++
		if val, ok := m.src.get(key); ok {
			m.dst.put(key, val)
			m.src.del(key)
		}
	}
	return m.cursor >= len(m.pending) && m.src.length() == 0
}

// get consults dst first, then src, per spec.md section 4.6.
func (m *migration) get(key []byte) ([]byte, bool) {
	if v, ok := m.dst.get(key); ok {
		return v, true
	}
	return m.src.get(key)
}

// put always lands in dst; if the key was still live in (unmigrated) src,
// it is removed from src atomically with the write, so a key is never
// visible in both engines at once.
func (m *migration) put(key, val []byte) (PutResult, []byte) {
	if old, ok := m.src.get(key); ok {
		m.src.del(key)
		res, _ := m.dst.put(key, val)
		// The key already existed (in src), so from the caller's
		// perspective this is a replace even though dst saw it as new;
		// the prior value is the one src held, not whatever dst.put
		// reported (dst never had it).
		if res == Inserted {
			res = Replaced
		}
		return res, old
	}
	return m.dst.put(key, val)
}

// del checks both engines; a key can only live in one of them at a time.
func (m *migration) del(key []byte) ([]byte, bool) {
	if v, ok := m.dst.del(key); ok {
		return v, true
	}
	return m.src.del(key)
}

func (m *migration) length() uintptr {
	return m.src.length() + m.dst.length()
}

// cancelNow marks the transfer for abort at the next op; src then remains
// active and dst is discarded. Per spec.md section 5, cancellation never
// leaves a key absent or duplicated -- safe here because a key only ever
// lives in one of the two engines, and Supervisor.abortMigration moves
// every entry dst holds back into src before dropping dst.
func (m *migration) cancelNow() {
	m.cancel = true
}
