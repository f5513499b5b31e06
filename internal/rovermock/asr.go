package rovermock

import (
	"encoding/json"
	"io"
	"net/http"

	"golang.org/x/net/websocket"
)

// asrServer accepts speech channels from any origin.
func (s *Server) asrServer() websocket.Server {
	return websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   s.serveASR,
	}
}

// serveASR parses each received text frame as a voice command and replies
// with the outcome.
func (s *Server) serveASR(ws *websocket.Conn) {
	s.asrMu.Lock()
	s.asrConns[ws] = struct{}{}
	s.asrMu.Unlock()
	s.logger.Printf("rovermock: speech channel opened from %s", ws.Request().RemoteAddr)

	defer func() {
		s.asrMu.Lock()
		delete(s.asrConns, ws)
		s.asrMu.Unlock()
		_ = ws.Close()
		s.logger.Printf("rovermock: speech channel closed")
	}()

	for {
		var text string
		if err := websocket.Message.Receive(ws, &text); err != nil {
			if err != io.EOF {
				s.logger.Printf("rovermock: speech channel error: %v", err)
			}
			return
		}

		if err := websocket.Message.Send(ws, s.recognise(text)); err != nil {
			return
		}
	}
}

// recognise executes a command found in text and returns the reply.
func (s *Server) recognise(text string) string {
	cmd, ok := ParseVoice(text)
	if !ok {
		return replyUnrecognised
	}
	s.state.Execute(cmd)
	return replyAccepted + string(cmd)
}

// Say pushes recognised speech to every open channel, as if the rover's
// microphone had heard text, and executes any command in it.
func (s *Server) Say(text string) int {
	s.recognise(text)

	s.asrMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.asrConns))
	for conn := range s.asrConns {
		conns = append(conns, conn)
	}
	s.asrMu.Unlock()

	sent := 0
	for _, conn := range conns {
		if err := websocket.Message.Send(conn, text); err == nil {
			sent++
		}
	}
	return sent
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeValidation(w, "text", "field required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"listeners": s.Say(req.Text)})
}
