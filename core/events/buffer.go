package events

// Buffer collects events emitted during a single operation. The dispatcher
// flushes it only once the operation's state changes have been committed, so
// reverted operations never leak notifications.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Events returns a copy of the buffered events in emission order.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	return append([]Event(nil), b.pending...)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.pending)
}

// Flush forwards the buffered events to dst in order and empties the buffer.
func (b *Buffer) Flush(dst Emitter) {
	if b == nil {
		return
	}
	pending := b.pending
	b.pending = nil
	if dst == nil {
		return
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
}

// Reset discards all buffered events.
func (b *Buffer) Reset() {
	if b != nil {
		b.pending = nil
	}
}
