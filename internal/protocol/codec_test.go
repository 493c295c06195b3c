package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		req  *Request
	}{
		{
			name: "interactive shell",
			req: &Request{
				Version: Version,
				Type:    MsgRequest,
				Tty:     true,
				Argv:    []string{"/bin/bash", "-l"},
				Env:     []string{"FOO=bar"},
				Rlim:    []Rlimit{{Resource: 7, Soft: 1024, Hard: 4096}},
				User:    "alice",
				Dir:     "/home/alice",
			},
		},
		{
			name: "non-interactive no argv",
			req: &Request{
				Version: Version,
				Type:    MsgRequest,
				Tty:     false,
				User:    "root",
			},
		},
		{
			name: "bind mount only",
			req: &Request{
				Version:              Version,
				Type:                 MsgRequest,
				BindMountSource:      "/host/path",
				BindMountDestination: "/container/path",
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			wire, err := EncodeRequest(tc.req)
			require.NoError(t, err)
			require.Len(t, wire, RequestWireSize)

			got, err := DecodeRequest(wire)
			require.NoError(t, err)

			require.Equal(t, tc.req.Version, got.Version)
			require.Equal(t, tc.req.Tty, got.Tty)
			require.Equal(t, tc.req.User, got.User)
			require.Equal(t, tc.req.Dir, got.Dir)
			require.Equal(t, tc.req.BindMountSource, got.BindMountSource)
			require.Equal(t, tc.req.BindMountDestination, got.BindMountDestination)
			require.Equal(t, tc.req.Rlim, got.Rlim)

			if len(tc.req.Argv) == 0 {
				require.Empty(t, got.Argv)
			} else {
				require.Equal(t, tc.req.Argv, got.Argv)
			}
			if len(tc.req.Env) == 0 {
				require.Empty(t, got.Env)
			} else {
				require.Equal(t, tc.req.Env, got.Env)
			}
		})
	}
}

func TestRequestValidateRejectsOversizeAndMixedBindMount(t *testing.T) {
	cases := []struct {
		name    string
		req     *Request
		wantErr bool
	}{
		{
			name: "bind mount with argv is rejected",
			req: &Request{
				Version:         Version,
				BindMountSource: "/a",
				Argv:            []string{"/bin/true"},
			},
			wantErr: true,
		},
		{
			name: "user too long is rejected",
			req: &Request{
				Version: Version,
				User:    stringOfLen(MaxUserLen + 1),
			},
			wantErr: true,
		},
		{
			name:    "plain request is accepted",
			req:     &Request{Version: Version, User: "root"},
			wantErr: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDecodeRequestRejectsWrongSize(t *testing.T) {
	_, err := DecodeRequest([]byte{1, 2, 3})
	require.Error(t, err)
}

// A malicious or buggy peer can send a well-sized record with its count
// fields set to absurd values; DecodeRequest must reject these rather than
// trust them as allocation sizes.
func TestDecodeRequestRejectsOversizeCounts(t *testing.T) {
	base, err := EncodeRequest(&Request{Version: Version, User: "root"})
	require.NoError(t, err)

	argCountOffset := 4 + 1 + 1 + 2
	envCountOffset := argCountOffset + 4 + MaxArgBuf
	rlimCountOffset := envCountOffset + 4 + MaxEnvBuf

	cases := []struct {
		name   string
		offset int
	}{
		{"argCount", argCountOffset},
		{"envCount", envCountOffset},
		{"rlimCount", rlimCountOffset},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			wire := make([]byte, len(base))
			copy(wire, base)
			binary.LittleEndian.PutUint32(wire[tc.offset:], 0xFFFFFFFF)

			_, err := DecodeRequest(wire)
			require.Error(t, err)
		})
	}
}

func TestSignalRoundTrip(t *testing.T) {
	s := &Signal{Version: Version, Signal: 15, PID: 4242}
	wire, err := EncodeSignal(s)
	require.NoError(t, err)
	require.Len(t, wire, SignalWireSize)

	got, err := DecodeSignal(wire)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{Version: Version}
	wire := EncodeResponse(resp)
	require.Len(t, wire, ResponseWireSize)

	got, err := DecodeResponse(wire)
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
