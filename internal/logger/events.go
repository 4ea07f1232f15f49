package logger

// Helpers for the recurring log lines of the IPC and streaming paths, so every
// call site formats them the same way.

func IPCRequest(method, id string) {
	Global().WithPrefix("ipc").Debug("-> %s id=%s", method, id)
}

func IPCResponse(method, id string, ok bool) {
	l := Global().WithPrefix("ipc")
	if ok {
		l.Debug("<- %s id=%s ok", method, id)
		return
	}
	l.Info("<- %s id=%s failed", method, id)
}

func StreamConnected(timeline string) {
	Global().WithPrefix("stream").Info("connected to %s", timeline)
}

func StreamMessage(timeline, kind string) {
	Global().WithPrefix("stream").Debug("%s: %s", timeline, kind)
}

func StreamDisconnected(timeline string, err error) {
	l := Global().WithPrefix("stream")
	if err != nil {
		l.Warn("disconnected from %s: %v", timeline, err)
		return
	}
	l.Info("disconnected from %s", timeline)
}
