// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades GET requests from allowed origins and admits the
// peer as an ordinary chat client. Each text frame it sends is treated as a
// line, and every relayed line reaches it as one text frame.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if !s.running.Load() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}

	src := s.logger.Source("gateway")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		src.Logf("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	handle := NewConnHandle(conn.NetConn())
	s.admit(handle, newWSTransport(conn, s.cfg.MaxLineSize), src)
}

// HealthHandler reports that the server is up along with the client count.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	if s.State() != StateListening {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "relaychat server is %s\n", s.State())
		return
	}
	_, _ = fmt.Fprintf(w, "relaychat server is running! clients=%d\n", s.registry.Count())
}

// TestPageHandler serves a small HTML page that joins the chat over the
// WebSocket endpoint.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>relaychat</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #lines { border: 1px solid #ccc; height: 320px; padding: 8px; overflow-y: scroll; white-space: pre-wrap; }
        .status { margin: 10px 0; }
        .connected { color: #155724; }
        .disconnected { color: #721c24; }
    </style>
</head>
<body>
    <h1>relaychat</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="line" size="60" placeholder="Type a line and press Enter" disabled>
        <button id="toggle">Connect</button>
    </div>
    <div id="lines"></div>

    <script>
        let ws = null;
        const lines = document.getElementById('lines');
        const input = document.getElementById('line');
        const toggle = document.getElementById('toggle');
        const status = document.getElementById('status');

        function show(text) {
            const row = document.createElement('div');
            row.textContent = text;
            lines.appendChild(row);
            lines.scrollTop = lines.scrollHeight;
        }

        function setConnected(connected) {
            status.textContent = connected ? 'Connected' : 'Disconnected';
            status.className = 'status ' + (connected ? 'connected' : 'disconnected');
            input.disabled = !connected;
            toggle.textContent = connected ? 'Disconnect' : 'Connect';
        }

        toggle.onclick = function() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            ws = new WebSocket('ws://' + location.host + '/ws');
            ws.onopen = function() { setConnected(true); };
            ws.onmessage = function(event) { show(event.data); };
            ws.onclose = function() { setConnected(false); ws = null; };
        };

        input.addEventListener('keypress', function(e) {
            if (e.key === 'Enter' && input.value && ws) {
                ws.send(input.value);
                show('You: ' + input.value);
                input.value = '';
            }
        });
    </script>
</body>
</html>`
