// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream tracks live client connections with per-connection topic
// subscriptions and performs filtered broadcast of domain events. The
// registry depends only on the narrow Transport contract below, not on any
// particular transport library; the WebSocket adapter lives in the handlers
// package.
package stream

import (
	"encoding/json"
	"time"
)

// Transport is the minimal contract a connection's wire layer must satisfy:
// send one text frame, or close. Receive is driven by the owning read loop,
// which forwards inbound payloads via Registry.HandleInbound.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Inbound message types accepted from clients.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgQuery       = "query"
	MsgPing        = "ping"
)

// Outbound frame types sent to clients.
const (
	FrameConnected    = "connected"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameSnapshot     = "snapshot"
	FramePong         = "pong"
	FrameError        = "error"
)

// inboundMessage is the envelope for client-originated messages.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// topicRequest is the data body for subscribe/unsubscribe/query messages.
type topicRequest struct {
	Topic string `json:"topic"`
}

// outboundFrame is the envelope for every server-originated message.
type outboundFrame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
