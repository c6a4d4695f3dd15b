package sinks

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ghostkellz/nitrogen/internal/logging"
)

// viewerHTML is a minimal static page that negotiates a WebRTC session
// against WebRTCServer's /offer and /answer endpoints. Kept inline
// rather than embedded from a file since the signaling surface is
// deliberately this small (spec: "no transport-level signaling server
// beyond a minimal HTTP endpoint").
const viewerHTML = `<!DOCTYPE html>
<html>
<head><title>Nitrogen</title></head>
<body>
<video id="v" autoplay playsinline controls></video>
<script>
const pc = new RTCPeerConnection();
pc.ontrack = (e) => { document.getElementById('v').srcObject = e.streams[0]; };
fetch('/offer').then(r => r.json()).then(async (offer) => {
	await pc.setRemoteDescription({type: 'offer', sdp: offer.sdp});
	const answer = await pc.createAnswer();
	await pc.setLocalDescription(answer);
	await fetch('/answer', {
		method: 'POST',
		headers: {'Content-Type': 'application/json'},
		body: JSON.stringify({sdp: answer.sdp}),
	});
});
</script>
</body>
</html>
`

type sdpPayload struct {
	SDP string `json:"sdp"`
}

type statusPayload struct {
	State string `json:"state"`
}

// WebRTCServer wraps one WebRTC sink with the minimal HTTP signaling
// surface spec §6 describes: the server originates the offer (pull
// model), the browser answers. A single peer at a time — a fresh
// GET /offer should be paired with a fresh sink, same as the
// teacher's one-session-at-a-time WHEP server.
type WebRTCServer struct {
	mu sync.Mutex
	rt *WebRTC
}

// NewWebRTCServer wraps an already-constructed sink.
func NewWebRTCServer(rt *WebRTC) *WebRTCServer {
	return &WebRTCServer{rt: rt}
}

// Handler returns a ready-to-serve mux implementing GET /, GET /offer,
// POST /answer, and GET /status.
func (s *WebRTCServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /offer", s.handleOffer)
	mux.HandleFunc("POST /answer", s.handleAnswer)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

func (s *WebRTCServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(viewerHTML))
}

func (s *WebRTCServer) handleOffer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sdp, err := s.rt.CreateOffer()
	if err != nil {
		logging.For("sinks.webrtc").Warn().Err(err).Msg("failed to create offer")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sdpPayload{SDP: sdp})
}

func (s *WebRTCServer) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var payload sdpPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err := s.rt.SetAnswer(payload.SDP)
	s.mu.Unlock()

	if err != nil {
		logging.For("sinks.webrtc").Warn().Err(err).Msg("failed to set answer")
		http.Error(w, "bad SDP answer", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *WebRTCServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	state := s.rt.ConnectionState().String()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusPayload{State: state})
}
