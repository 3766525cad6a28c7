// Package agentwire implements the framed protocol spoken with the
// in-container judge agent: a 32-bit little-endian length prefix
// followed by a MessagePack map payload. Responses are decoded with an
// explicit decoder per message tag; unknown fields are ignored and no
// structural reflection is used, because the agent images make no
// contract beyond the documented fields.
package agentwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/opencontest/judge/internal/domain"
)

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("op=agentwire.write: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("op=agentwire.write: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A clean EOF before the
// header maps to ErrAgentClosed so callers can tell "agent hung up"
// from torn frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, domain.ErrAgentClosed
		}
		return nil, fmt.Errorf("op=agentwire.read: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("op=agentwire.read: %w", err)
	}
	return payload, nil
}

// SendCompilation sends the compile request for the submission code.
// Limits are seconds and MiB, matching the agent contract.
func SendCompilation(w io.Writer, code []byte, timeLimit, memoryLimit int) error {
	return sendMap(w, map[string]any{
		"type":         "Compilation",
		"code":         code,
		"time_limit":   timeLimit,
		"memory_limit": memoryLimit,
	})
}

// SendPreparation arms the test container before the first test.
// OutputLimit is MiB.
func SendPreparation(w io.Writer, code []byte, timeLimit, memoryLimit, outputLimit int) error {
	return sendMap(w, map[string]any{
		"type":         "Preparation",
		"code":         code,
		"time_limit":   timeLimit,
		"memory_limit": memoryLimit,
		"output_limit": outputLimit,
	})
}

// SendTest streams one test input to the agent.
func SendTest(w io.Writer, input []byte) error {
	return sendMap(w, map[string]any{
		"type":  "Test",
		"input": input,
	})
}

func sendMap(w io.Writer, m map[string]any) error {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("op=agentwire.encode: %w", err)
	}
	return WriteFrame(w, b)
}

// ReadCompilation reads the agent's compile response. Exactly one of
// the returned values is non-nil on success.
func ReadCompilation(r io.Reader) (*domain.AgentCompilation, *domain.AgentError, error) {
	m, err := readMap(r)
	if err != nil {
		return nil, nil, err
	}
	switch tag(m) {
	case "Compilation":
		binary, ok := asBytes(m["binary"])
		if !ok {
			return nil, nil, fmt.Errorf("op=agentwire.compilation missing binary: %w", domain.ErrDecodeFrame)
		}
		t, ok := asFloat(m["time"])
		if !ok {
			return nil, nil, fmt.Errorf("op=agentwire.compilation missing time: %w", domain.ErrDecodeFrame)
		}
		return &domain.AgentCompilation{Binary: binary, Time: t}, nil, nil
	case "Error":
		ae, err := decodeError(m)
		if err != nil {
			return nil, nil, err
		}
		return nil, ae, nil
	default:
		return nil, nil, fmt.Errorf("op=agentwire.compilation tag=%q: %w", tag(m), domain.ErrDecodeFrame)
	}
}

// ReadTestResult reads the agent's response for one test.
func ReadTestResult(r io.Reader) (domain.AgentResponse, error) {
	m, err := readMap(r)
	if err != nil {
		return domain.AgentResponse{}, err
	}
	switch tag(m) {
	case "Test":
		output, ok := asBytes(m["output"])
		if !ok {
			return domain.AgentResponse{}, fmt.Errorf("op=agentwire.test missing output: %w", domain.ErrDecodeFrame)
		}
		t, ok := asFloat(m["time"])
		if !ok {
			return domain.AgentResponse{}, fmt.Errorf("op=agentwire.test missing time: %w", domain.ErrDecodeFrame)
		}
		mem, ok := asInt(m["memory_bytes"])
		if !ok {
			return domain.AgentResponse{}, fmt.Errorf("op=agentwire.test missing memory_bytes: %w", domain.ErrDecodeFrame)
		}
		return domain.AgentResponse{Result: &domain.AgentTestResult{
			Output:      output,
			Time:        t,
			MemoryBytes: mem,
		}}, nil
	case "Error":
		ae, err := decodeError(m)
		if err != nil {
			return domain.AgentResponse{}, err
		}
		return domain.AgentResponse{Error: ae}, nil
	default:
		return domain.AgentResponse{}, fmt.Errorf("op=agentwire.test tag=%q: %w", tag(m), domain.ErrDecodeFrame)
	}
}

func readMap(r io.Reader) (map[string]any, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := msgpack.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("op=agentwire.decode: %w: %w", domain.ErrDecodeFrame, err)
	}
	return m, nil
}

func decodeError(m map[string]any) (*domain.AgentError, error) {
	kind, ok := asString(m["kind"])
	if !ok {
		return nil, fmt.Errorf("op=agentwire.error missing kind: %w", domain.ErrDecodeFrame)
	}
	ae := &domain.AgentError{Kind: kind}
	if t, ok := asFloat(m["time"]); ok {
		ae.Time = &t
	}
	if mem, ok := asInt(m["memory_bytes"]); ok {
		ae.MemoryBytes = &mem
	}
	return ae, nil
}

func tag(m map[string]any) string {
	s, _ := asString(m["type"])
	return s
}

// The helpers below normalize msgpack's interface decodings: integers
// arrive as any signed or unsigned width, binaries as []byte or string
// depending on how the agent encoded them.

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func asBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
