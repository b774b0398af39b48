package transport

import "time"

// amplificationFactor bounds how many bytes an unvalidated server path may
// send for every byte received from the client (RFC 9000 §8.1).
const amplificationFactor = 3

// path tracks one network path's validation state and anti-amplification
// budget (RFC 9000 §9, §8.1). A server's path starts unvalidated and stays
// that way until its peer proves ownership of the address, bounding how
// much an attacker can amplify by spoofing a victim's source address.
type path struct {
	localAddr  string
	remoteAddr string

	validated bool
	bytesRecv int
	bytesSent int

	challengeSent     [8]byte
	challengePending  bool
	challengeSentTime time.Time

	isServer bool
}

func newPath(local, remote string, isServer, validated bool) *path {
	return &path{localAddr: local, remoteAddr: remote, isServer: isServer, validated: validated}
}

// onBytesReceived credits the anti-amplification budget.
func (p *path) onBytesReceived(n int) { p.bytesRecv += n }

// canSend reports how many more bytes this path may send before hitting
// the 3x anti-amplification limit, unlimited once validated.
func (p *path) canSend() int {
	if p.validated || !p.isServer {
		return 1 << 30
	}
	budget := amplificationFactor*p.bytesRecv - p.bytesSent
	if budget < 0 {
		return 0
	}
	return budget
}

func (p *path) onBytesSent(n int) { p.bytesSent += n }

// startValidation issues a PATH_CHALLENGE, recording its payload so a
// matching PATH_RESPONSE can be recognized.
func (p *path) startValidation(data [8]byte, now time.Time) {
	p.challengeSent = data
	p.challengePending = true
	p.challengeSentTime = now
}

// onPathResponse reports whether the response matches our outstanding
// challenge, and if so marks the path validated.
func (p *path) onPathResponse(data [8]byte) bool {
	if !p.challengePending || data != p.challengeSent {
		return false
	}
	p.challengePending = false
	p.validated = true
	return true
}

// pathManager tracks the active path and any candidate paths under
// validation during a migration (RFC 9000 §9).
type pathManager struct {
	active     *path
	candidates []*path
}

func newPathManager(active *path) *pathManager {
	return &pathManager{active: active}
}

// onPeerAddressChanged begins migration to a new candidate path, which
// starts unvalidated: the server must probe it before sending more than
// the anti-amplification allowance and before treating it as active for
// loss-recovery purposes (RFC 9000 §9.3).
func (m *pathManager) onPeerAddressChanged(remote string) *path {
	for _, c := range m.candidates {
		if c.remoteAddr == remote {
			return c
		}
	}
	p := newPath(m.active.localAddr, remote, m.active.isServer, false)
	m.candidates = append(m.candidates, p)
	return p
}

// promote makes a validated candidate the active path once its
// PATH_RESPONSE has been confirmed.
func (m *pathManager) promote(p *path) {
	if !p.validated {
		return
	}
	m.active = p
	out := m.candidates[:0]
	for _, c := range m.candidates {
		if c != p {
			out = append(out, c)
		}
	}
	m.candidates = out
}

