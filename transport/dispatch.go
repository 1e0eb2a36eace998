package transport

// Handler is a protocol service. Dispatch calls PacketReceived when a frame
// for its protocol is at the head of the receive queue; the handler takes it
// with Radio.Recv. A frame the handler leaves behind is discarded.
type Handler interface {
	PacketReceived()
}

type HandlerFunc func()

func (f HandlerFunc) PacketReceived() { f() }

// NotifyKind identifies a notification raised by dispatch or a service.
type NotifyKind uint8

const (
	// NotifyDataReady: a frame arrived for a protocol nobody registered.
	NotifyDataReady NotifyKind = iota + 1
	// NotifyDatagram: the datagram service queued a packet.
	NotifyDatagram
)

func (k NotifyKind) String() string {
	switch k {
	case NotifyDataReady:
		return "data-ready"
	case NotifyDatagram:
		return "datagram"
	default:
		return "unknown"
	}
}

type Notification struct {
	Kind     NotifyKind
	Protocol byte
}

// Register attaches h to a protocol id, replacing any previous handler. A
// nil h removes the registration.
func (r *Radio) Register(protocol byte, h Handler) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	if h == nil {
		delete(r.handlers, protocol)
		return
	}
	r.handlers[protocol] = h
}

// OnNotify installs the notification sink. Notifications are delivered
// synchronously from Idle.
func (r *Radio) OnNotify(fn func(Notification)) {
	r.hmu.Lock()
	r.notify = fn
	r.hmu.Unlock()
}

// Notify raises a notification on the radio's sink.
func (r *Radio) Notify(n Notification) {
	r.hmu.RLock()
	fn := r.notify
	r.hmu.RUnlock()
	if fn != nil {
		fn(n)
	}
}

func (r *Radio) handler(protocol byte) Handler {
	r.hmu.RLock()
	defer r.hmu.RUnlock()
	return r.handlers[protocol]
}

// Idle drains the receive queue, routing every frame to its protocol
// handler. It is meant to be called from the background loop.
func (r *Radio) Idle() {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()

	r.reportDrops()

	for {
		head, ok := r.peek()
		if !ok {
			return
		}
		protocol := head.Protocol()
		if h := r.handler(protocol); h != nil {
			h.PacketReceived()
		} else {
			log.Debug("No handler for frame", "protocol", protocol, "seq", head.Seq())
			r.Notify(Notification{Kind: NotifyDataReady, Protocol: protocol})
		}

		// Still there: nobody claimed it.
		if cur, ok := r.peek(); ok && cur == head {
			if f, ok := r.Recv(); ok {
				f.Release()
			}
		}
	}
}

func (r *Radio) reportDrops() {
	s := r.Stats()
	prev := r.reported
	r.reported = s

	if d := s.Dropped() - prev.Dropped(); d > 0 {
		log.Warn("Dropped received frames", "count", d, "queuefull", s.QueueFull-prev.QueueFull, "nobuffer", s.NoBuffer-prev.NoBuffer, "pool", r.pool.Size(), "free", r.pool.Available())
	}
	if d := s.Rejected() - prev.Rejected(); d > 0 {
		log.Debug("Rejected frames", "count", d, "crc", s.CRCErrors-prev.CRCErrors, "group", s.GroupMismatch-prev.GroupMismatch, "malformed", s.Malformed-prev.Malformed)
	}
}
