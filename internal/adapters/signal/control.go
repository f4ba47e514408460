package signal

type controlReply struct {
	Type  string `json:"type"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.sendJSON(c, controlReply{Type: "pong"})
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, kind, msg string) {
	ctl.sendJSON(c, controlReply{Type: "error", Kind: kind, Error: msg})
}
