package server

import (
	"github.com/arkanis/querymanager/internal/protocol"
)

// prepareResponse starts a response frame in the slot's buffer: a length
// placeholder and the status byte. Payload writes follow on the returned
// buffer; sendResponse patches the length in.
func (e *Engine) prepareResponse(c *conn, status uint8) *protocol.WriteBuffer {
	w := protocol.NewWriteBuffer(c.buf)
	w.Write16(0)
	w.Write8(status)
	return w
}

// sendResponse finalizes the frame header and flips the slot to writing.
// A response that outgrew the buffer cannot be truncated, only dropped
// with the connection.
func (e *Engine) sendResponse(c *conn, w *protocol.WriteBuffer) {
	if c.state != stateProcessing {
		e.log.Error("response in wrong state", "remote", c.remote, "state", c.state)
		e.closeConn(c)
		return
	}
	payload := w.Len() - 2
	if payload < 0xFFFF {
		w.Rewrite16(0, uint16(payload))
	} else {
		w.Rewrite16(0, 0xFFFF)
		w.Insert32(2, uint32(payload))
	}
	if w.Overflowed() {
		e.log.Error("response too large", "remote", c.remote, "size", w.Len())
		e.closeConn(c)
		return
	}
	c.state = stateWriting
	c.rwSize = w.Len()
	c.rwPos = 0
}

func (e *Engine) sendOK(c *conn) {
	e.sendResponse(c, e.prepareResponse(c, protocol.StatusOK))
}

func (e *Engine) sendError(c *conn, code uint8) {
	w := e.prepareResponse(c, protocol.StatusError)
	w.Write8(code)
	e.sendResponse(c, w)
}

func (e *Engine) sendFailed(c *conn) {
	e.mets.QueryFailures.Inc()
	e.sendResponse(c, e.prepareResponse(c, protocol.StatusFailed))
}

// fail logs a handler's internal error and answers failed.
func (e *Engine) fail(c *conn, what string, err error) {
	e.log.Error(what, "remote", c.remote, "error", err)
	e.sendFailed(c)
}
