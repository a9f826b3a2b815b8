// Package server implements the HTTP and WebSocket front of the notification
// server.
//
// A handshake is authenticated before the upgrade; the upgraded socket is
// wrapped in a Client, which is the transport of a presence.Connection. The
// Hub runs the read and write pumps of every client and closes them on
// shutdown. Clients never send application data; inbound frames are only
// size and rate limited.
package server
