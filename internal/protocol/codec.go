package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// wire layout, matching the C msg_request_t/msg_signal_t/msg_response_t
// struct shapes bit-for-bit so the socket carries one fixed-size record
// per connection, never a length-prefixed stream.
//
//	version   uint32
//	type      uint8
//	tty       uint8
//	_pad      uint16
//	argCount  uint32
//	argBuf    [MaxArgBuf]byte
//	envCount  uint32
//	envBuf    [MaxEnvBuf]byte
//	rlimCount uint32
//	rlim      [MaxRlimits]{resource uint32; soft uint64; hard uint64}
//	user      [MaxUserLen+1]byte
//	dir       [MaxPathLen+1]byte
//	bmSrc     [MaxPathLen+1]byte
//	bmDst     [MaxPathLen+1]byte
const (
	rlimitRecordSize = 4 + 8 + 8
	requestWireSize  = 4 + 1 + 1 + 2 +
		4 + MaxArgBuf +
		4 + MaxEnvBuf +
		4 + MaxRlimits*rlimitRecordSize +
		(MaxUserLen + 1) +
		(MaxPathLen + 1) +
		(MaxPathLen + 1) +
		(MaxPathLen + 1)

	signalWireSize = 4 + 1 + 1 + 2 + 4 + 4

	responseWireSize = 4
)

// RequestWireSize and SignalWireSize are the exact byte counts a conforming
// sender must produce for the two accepted message shapes; the control
// socket rejects any datagram whose length differs from either.
const (
	RequestWireSize  = requestWireSize
	SignalWireSize   = signalWireSize
	ResponseWireSize = responseWireSize
)

// EncodeRequest packs r into its fixed-size wire form. It calls Validate
// first; callers must not bypass this by hand-assembling bytes.
func EncodeRequest(r *Request) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, requestWireSize)
	w := &cursor{buf: buf}

	w.putU32(uint32(Version))
	w.putU8(uint8(MsgRequest))
	if r.Tty {
		w.putU8(1)
	} else {
		w.putU8(0)
	}
	w.putU16(0) // padding

	argBuf, err := pack(r.Argv, MaxArgBuf)
	if err != nil {
		return nil, err
	}
	w.putU32(uint32(len(r.Argv)))
	w.putFixed(argBuf, MaxArgBuf)

	envBuf, err := pack(r.Env, MaxEnvBuf)
	if err != nil {
		return nil, err
	}
	w.putU32(uint32(len(r.Env)))
	w.putFixed(envBuf, MaxEnvBuf)

	w.putU32(uint32(len(r.Rlim)))
	for i := 0; i < MaxRlimits; i++ {
		if i < len(r.Rlim) {
			w.putU32(r.Rlim[i].Resource)
			w.putU64(r.Rlim[i].Soft)
			w.putU64(r.Rlim[i].Hard)
		} else {
			w.putU32(0)
			w.putU64(0)
			w.putU64(0)
		}
	}

	w.putCString(r.User, MaxUserLen+1)
	w.putCString(r.Dir, MaxPathLen+1)
	w.putCString(r.BindMountSource, MaxPathLen+1)
	w.putCString(r.BindMountDestination, MaxPathLen+1)

	if w.err != nil {
		return nil, w.err
	}
	return buf, nil
}

// DecodeRequest unpacks a fixed-size wire record produced by EncodeRequest.
// buf must be exactly RequestWireSize bytes; a short or long buffer is a
// protocol violation, not something to be padded or trimmed.
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) != requestWireSize {
		return nil, fmt.Errorf("protocol: request record is %d bytes, want %d", len(buf), requestWireSize)
	}

	r := &cursor{buf: buf}
	version := r.getU32()
	typ := r.getU8()
	tty := r.getU8()
	r.getU16() // padding

	if MsgType(typ) != MsgRequest {
		return nil, fmt.Errorf("protocol: expected request type %d, got %d", MsgRequest, typ)
	}

	// Each count comes straight off the wire from an untrusted peer and is
	// about to size an allocation; bound it against what the fixed buffer
	// it indexes into could possibly hold before trusting it as a length,
	// rather than handing it to make() as-is.
	argCount := r.getU32()
	if argCount > MaxArgBuf {
		return nil, fmt.Errorf("protocol: arg count %d exceeds %d", argCount, MaxArgBuf)
	}
	argBuf := r.getFixed(MaxArgBuf)
	argv, err := unpack(argBuf, int(argCount))
	if err != nil {
		return nil, err
	}

	envCount := r.getU32()
	if envCount > MaxEnvBuf {
		return nil, fmt.Errorf("protocol: env count %d exceeds %d", envCount, MaxEnvBuf)
	}
	envBuf := r.getFixed(MaxEnvBuf)
	env, err := unpack(envBuf, int(envCount))
	if err != nil {
		return nil, err
	}

	rlimCount := r.getU32()
	if rlimCount > MaxRlimits {
		return nil, fmt.Errorf("protocol: rlimit count %d exceeds %d", rlimCount, MaxRlimits)
	}
	var rlims []Rlimit
	for i := 0; i < MaxRlimits; i++ {
		resource := r.getU32()
		soft := r.getU64()
		hard := r.getU64()
		if uint32(i) < rlimCount {
			rlims = append(rlims, Rlimit{Resource: resource, Soft: soft, Hard: hard})
		}
	}

	user := r.getCString(MaxUserLen + 1)
	dir := r.getCString(MaxPathLen + 1)
	bmSrc := r.getCString(MaxPathLen + 1)
	bmDst := r.getCString(MaxPathLen + 1)

	if r.err != nil {
		return nil, r.err
	}

	req := &Request{
		Version:              int(version),
		Type:                 MsgRequest,
		Tty:                  tty != 0,
		Argv:                 argv,
		Env:                  env,
		Rlim:                 rlims,
		User:                 user,
		Dir:                  dir,
		BindMountSource:      bmSrc,
		BindMountDestination: bmDst,
	}
	return req, nil
}

// EncodeSignal packs s into its fixed-size wire form.
func EncodeSignal(s *Signal) ([]byte, error) {
	if s.Version != Version {
		return nil, fmt.Errorf("protocol: unsupported version %d", s.Version)
	}

	buf := make([]byte, signalWireSize)
	w := &cursor{buf: buf}
	w.putU32(uint32(Version))
	w.putU8(uint8(MsgSignal))
	w.putU8(0)
	w.putU16(0)
	w.putU32(uint32(s.Signal))
	w.putU32(uint32(s.PID))
	if w.err != nil {
		return nil, w.err
	}
	return buf, nil
}

// DecodeSignal unpacks a fixed-size wire record produced by EncodeSignal.
func DecodeSignal(buf []byte) (*Signal, error) {
	if len(buf) != signalWireSize {
		return nil, fmt.Errorf("protocol: signal record is %d bytes, want %d", len(buf), signalWireSize)
	}

	r := &cursor{buf: buf}
	version := r.getU32()
	typ := r.getU8()
	r.getU8()
	r.getU16()
	sig := r.getU32()
	pid := r.getU32()
	if r.err != nil {
		return nil, r.err
	}
	if MsgType(typ) != MsgSignal {
		return nil, fmt.Errorf("protocol: expected signal type %d, got %d", MsgSignal, typ)
	}

	return &Signal{Version: int(version), Signal: int(int32(sig)), PID: int(int32(pid))}, nil
}

// EncodeResponse packs resp into its fixed-size wire form.
func EncodeResponse(resp *Response) []byte {
	buf := make([]byte, responseWireSize)
	binary.LittleEndian.PutUint32(buf, uint32(resp.Version))
	return buf
}

// DecodeResponse unpacks a fixed-size wire record produced by
// EncodeResponse.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) != responseWireSize {
		return nil, fmt.Errorf("protocol: response record is %d bytes, want %d", len(buf), responseWireSize)
	}
	return &Response{Version: int(binary.LittleEndian.Uint32(buf))}, nil
}

// PeekType inspects the first byte after the version field (byte offset 4)
// to tell a request from a signal without a full decode, so a reader can
// size its read before committing to one shape.
func PeekType(buf []byte) (MsgType, error) {
	if len(buf) < 5 {
		return 0, io.ErrShortBuffer
	}
	return MsgType(buf[4]), nil
}

// pack joins ss into a single NUL-separated, NUL-terminated buffer no
// larger than max bytes.
func pack(ss []string, max int) ([]byte, error) {
	var b bytes.Buffer
	for _, s := range ss {
		b.WriteString(s)
		b.WriteByte(0)
	}
	if b.Len() > max {
		return nil, fmt.Errorf("protocol: packed buffer is %d bytes, exceeds %d", b.Len(), max)
	}
	return b.Bytes(), nil
}

// unpack splits a packed NUL-separated buffer back into exactly want
// strings.
func unpack(buf []byte, want int) ([]string, error) {
	if want == 0 {
		return nil, nil
	}
	out := make([]string, 0, want)
	start := 0
	for i, b := range buf {
		if b == 0 {
			out = append(out, string(buf[start:i]))
			start = i + 1
			if len(out) == want {
				return out, nil
			}
		}
	}
	return nil, fmt.Errorf("protocol: packed buffer held %d entries, want %d", len(out), want)
}

// cursor is a tiny fixed-buffer binary reader/writer; it records the first
// error encountered and every subsequent call is then a no-op, so call
// sites can check err once at the end.
type cursor struct {
	buf []byte
	off int
	err error
}

func (c *cursor) putU8(v uint8) {
	if c.err != nil {
		return
	}
	c.buf[c.off] = v
	c.off++
}

func (c *cursor) putU16(v uint16) {
	if c.err != nil {
		return
	}
	binary.LittleEndian.PutUint16(c.buf[c.off:], v)
	c.off += 2
}

func (c *cursor) putU32(v uint32) {
	if c.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(c.buf[c.off:], v)
	c.off += 4
}

func (c *cursor) putU64(v uint64) {
	if c.err != nil {
		return
	}
	binary.LittleEndian.PutUint64(c.buf[c.off:], v)
	c.off += 8
}

func (c *cursor) putFixed(src []byte, size int) {
	if c.err != nil {
		return
	}
	copy(c.buf[c.off:c.off+size], src)
	c.off += size
}

func (c *cursor) putCString(s string, size int) {
	if c.err != nil {
		return
	}
	if len(s)+1 > size {
		c.err = fmt.Errorf("protocol: string %q exceeds field size %d", s, size-1)
		return
	}
	n := copy(c.buf[c.off:c.off+size], s)
	c.buf[c.off+n] = 0
	c.off += size
}

func (c *cursor) getU8() uint8 {
	if c.err != nil {
		return 0
	}
	v := c.buf[c.off]
	c.off++
	return v
}

func (c *cursor) getU16() uint16 {
	if c.err != nil {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v
}

func (c *cursor) getU32() uint32 {
	if c.err != nil {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v
}

func (c *cursor) getU64() uint64 {
	if c.err != nil {
		return 0
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v
}

func (c *cursor) getFixed(size int) []byte {
	if c.err != nil {
		return nil
	}
	v := c.buf[c.off : c.off+size]
	c.off += size
	return v
}

func (c *cursor) getCString(size int) string {
	if c.err != nil {
		return ""
	}
	field := c.buf[c.off : c.off+size]
	c.off += size
	n := bytes.IndexByte(field, 0)
	if n < 0 {
		c.err = fmt.Errorf("protocol: field of size %d has no NUL terminator", size)
		return ""
	}
	return string(field[:n])
}
