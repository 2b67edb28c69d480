package transport

// flowControl tracks one direction pair of byte credits, used both at
// connection scope (_local_max_data/_remote_max_data) and per-stream
// scope (max_data_local/max_data_remote), spec §3.
type flowControl struct {
	maxSend uint64 // credit the peer has granted us
	sent    uint64

	maxRecvInit uint64 // credit we last announced (initial value, then each commitMaxRecv)
	maxRecvNext uint64 // credit we intend to advertise next (grows as consumed)
	recvd       uint64
}

func (f *flowControl) init(maxRecv, maxSend uint64) {
	f.maxRecvInit = maxRecv
	f.maxRecvNext = maxRecv
	f.maxSend = maxSend
}

// canSend returns remaining send credit.
func (f *flowControl) canSend() uint64 {
	if f.sent >= f.maxSend {
		return 0
	}
	return f.maxSend - f.sent
}

func (f *flowControl) addSend(n int) {
	f.sent += uint64(n)
}

// setMaxSend raises send credit monotonically (spec §3 invariant:
// "_remote_max_streams_* never decreases"; the same rule governs MAX_DATA
// and MAX_STREAM_DATA, spec §4.7).
func (f *flowControl) setMaxSend(v uint64) bool {
	if v <= f.maxSend {
		return false
	}
	f.maxSend = v
	return true
}

// canRecv returns how many more bytes we are willing to accept before a
// FLOW_CONTROL_ERROR.
func (f *flowControl) canRecv() uint64 {
	if f.recvd >= f.maxRecvInit {
		return 0
	}
	return f.maxRecvInit - f.recvd
}

func (f *flowControl) addRecv(n int) {
	f.recvd += uint64(n)
	// The next limit is bytes received so far plus the last announced
	// limit, a simple and common policy; only the monotonicity of what we
	// actually announce matters for peer-visible correctness.
	want := f.recvd + f.maxRecvInit
	if want > f.maxRecvNext {
		f.maxRecvNext = want
	}
}

// shouldUpdateMaxRecv reports whether the next MAX_DATA/MAX_STREAM_DATA we
// would send actually raises the previously announced value.
func (f *flowControl) shouldUpdateMaxRecv() bool {
	return f.maxRecvNext > f.maxRecvInit
}

func (f *flowControl) commitMaxRecv() {
	f.maxRecvInit = f.maxRecvNext
}

// monotoneCounter is a scalar that can only increase, used for
// _remote_max_streams_bidi/_uni. It is a plain field; access is serialized
// by the connection mutex. _remote_max_data is raised through
// flowControl.setMaxSend instead.
type monotoneCounter struct {
	value uint64
}

// raise applies v if it is larger than the current value, returning
// whether it changed anything. Smaller or equal values are discarded
// (spec §3, §4.7, and the MAX_STREAMS/MAX_DATA testable properties of §8).
func (c *monotoneCounter) raise(v uint64) bool {
	if v <= c.value {
		return false
	}
	c.value = v
	return true
}

func (c *monotoneCounter) get() uint64 {
	return c.value
}
