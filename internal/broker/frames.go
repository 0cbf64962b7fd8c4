package broker

import "fmt"

// classifyFrontend splits an inbound frontend message into client_id,
// payload, and the framing shape so a reply can mirror it. It accepts
// the 3-frame DEALER shape [client_id, empty, payload] and the 2-frame
// REQ shape [client_id, payload].
func classifyFrontend(parts [][]byte) (clientID, payload []byte, f framing, err error) {
	switch len(parts) {
	case 3:
		if len(parts[1]) != 0 {
			return nil, nil, 0, fmt.Errorf("broker: expected empty delimiter frame, got %d bytes", len(parts[1]))
		}
		return parts[0], parts[2], framingDealer, nil
	case 2:
		return parts[0], parts[1], framingREQ, nil
	default:
		return nil, nil, 0, fmt.Errorf("broker: unexpected frontend frame count %d", len(parts))
	}
}

// buildFrontendReply mirrors the client's original framing shape.
func buildFrontendReply(clientID []byte, f framing, payload []byte) [][]byte {
	if f == framingREQ {
		return [][]byte{clientID, payload}
	}
	return [][]byte{clientID, {}, payload}
}

// buildBackendFrame constructs the broker->backend 5-frame form:
// [worker_id, empty, client_id, empty, payload].
func buildBackendFrame(workerID string, clientID, payload []byte) [][]byte {
	return [][]byte{[]byte(workerID), {}, clientID, {}, payload}
}

// backendKind distinguishes a worker control message from a response.
type backendKind int

const (
	backendRegister backendKind = iota
	backendHeartbeat
	backendResponse
)

// classifiedBackend is the result of parsing a backend message, in
// whichever of the tolerated shapes it arrived.
type classifiedBackend struct {
	kind     backendKind
	workerID string
	clientID []byte // only set for backendResponse
	payload  []byte
}

// classifyBackend parses a backend message. It tolerates:
//   - control: [worker_id, empty?, REGISTER|HEARTBEAT, json]
//   - response: [worker_id, client_id, empty?, payload]
//   - the bare worker reply [worker_id, empty, payload], which is what
//     a DEALER worker's 2-frame [empty, payload] send arrives as
//
// The first frame is always treated as worker_id: the ROUTER socket
// prepends the peer identity automatically, so a genuinely missing
// worker_id would mean no message at all. The empty delimiter moves
// around between client stacks, so it is stripped wherever it appears
// rather than assumed at a fixed position.
func classifyBackend(parts [][]byte) (classifiedBackend, error) {
	if len(parts) < 2 {
		return classifiedBackend{}, fmt.Errorf("broker: backend message too short (%d frames)", len(parts))
	}

	workerID := string(parts[0])
	rest := parts[1:]

	// Drop a single leading empty delimiter frame, if present.
	if len(rest) > 1 && len(rest[0]) == 0 {
		rest = rest[1:]
	}

	if len(rest) == 0 {
		return classifiedBackend{}, fmt.Errorf("broker: backend message has no payload frames")
	}

	switch string(rest[0]) {
	case tagRegister:
		if len(rest) < 2 {
			return classifiedBackend{}, fmt.Errorf("broker: REGISTER missing body")
		}
		return classifiedBackend{kind: backendRegister, workerID: workerID, payload: rest[1]}, nil
	case tagHeartbeat:
		if len(rest) < 2 {
			return classifiedBackend{}, fmt.Errorf("broker: HEARTBEAT missing body")
		}
		return classifiedBackend{kind: backendHeartbeat, workerID: workerID, payload: rest[1]}, nil
	default:
		// Response: remaining frames are [client_id, empty?, payload],
		// [client_id, payload], or a bare [payload] when the worker
		// replied without echoing the client identity. The pending-request
		// map is authoritative for routing either way; the wire client_id
		// is only a fallback.
		if len(rest) == 1 {
			return classifiedBackend{kind: backendResponse, workerID: workerID, payload: rest[0]}, nil
		}
		clientID := rest[0]
		payload := rest[len(rest)-1]
		return classifiedBackend{kind: backendResponse, workerID: workerID, clientID: clientID, payload: payload}, nil
	}
}
