package peer

// ReadDebt bridges a source that delivers variable-sized chunks (one
// WebSocket message) into a read API that fills caller-sized buffers.
// Bytes that do not fit the caller's buffer are stored as pending debt and
// drained strictly before the source is polled again.
type ReadDebt struct {
	pending []byte
}

// ProcessMessage copies as much of chunk as fits into dst and stores the
// remainder as pending debt. It must not be called while debt is pending.
func (d *ReadDebt) ProcessMessage(dst, chunk []byte) int {
	if d.pending != nil {
		panic("readdebt: message processed while debt is pending")
	}
	n := copy(dst, chunk)
	if n < len(chunk) {
		d.pending = append([]byte(nil), chunk[n:]...)
	}
	return n
}

// CheckDebt drains pending debt into dst. The second return value reports
// whether debt existed; false means the caller should poll the source.
func (d *ReadDebt) CheckDebt(dst []byte) (int, bool) {
	if d.pending == nil {
		return 0, false
	}
	chunk := d.pending
	d.pending = nil
	return d.ProcessMessage(dst, chunk), true
}

// HasDebt reports whether unconsumed bytes are pending.
func (d *ReadDebt) HasDebt() bool {
	return d.pending != nil
}
