package server

import "net"

// netConnTransport adapts a net.Conn to rtmp.Transport (spec.md §1's
// transport collaborator). The teacher writes directly to net.Conn from
// inside RTMPSession; here that responsibility is pulled out so the
// engine never imports net.
type netConnTransport struct {
	conn net.Conn
}

func (t *netConnTransport) SendBytes(b []byte) error {
	_, err := t.conn.Write(b)
	return err
}

func (t *netConnTransport) Flush() error {
	return nil
}

func (t *netConnTransport) CloseAfterFlush() {
	t.conn.Close()
}

func (t *netConnTransport) Close() {
	t.conn.Close()
}
