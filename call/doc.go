// Package call implements a point-to-point voice call over a single TCP connection.
//
// A Controller alternates between listening for one inbound connection and, on request, dialing a
// peer. Once connected it runs two Workers: the uplink copies captured audio to the socket and the
// downlink copies audio from the socket to the playback device. The wire format is raw PCM with no
// framing; the peer closing its socket is the only end-of-call signal.
//
//	Idle ──RequestCall──▶ Dialing ──dial ok──▶ Active
//	  ▲  ╰────────────listen ok────────────────▶ │
//	  ╰──dial failed── Dialing     HangUp / peer closed / I/O error
//	  ╰────────────── TearingDown ◀──────────────╯
package call
