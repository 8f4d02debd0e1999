// Package hook turns agent hook payloads into relay signals. A hook runs
// inside the agent's own control flow, so nothing here may block for long or
// surface an error to the agent.
package hook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/agentping/relay/internal/classify"
)

// Timeout bounds how long a hook may hold up the agent.
const Timeout = 2 * time.Second

// TranscriptTail is how much of the transcript is scanned for the last
// assistant message.
const TranscriptTail = 200_000

// Input is the JSON an agent pipes to a hook command.
type Input struct {
	HookEventName    string `json:"hook_event_name"`
	NotificationType string `json:"notification_type,omitempty"`
	SessionID        string `json:"session_id"`
	Cwd              string `json:"cwd,omitempty"`
	TranscriptPath   string `json:"transcript_path,omitempty"`
	Message          string `json:"message,omitempty"`
	Title            string `json:"title,omitempty"`
	ToolName         string `json:"tool_name,omitempty"`
}

// ErrIgnored marks hook events that carry nothing worth relaying.
var ErrIgnored = errors.New("hook event ignored")

// ReadInput decodes hook input from r.
func ReadInput(r io.Reader) (Input, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return Input{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Input{}, fmt.Errorf("%w: empty hook input", classify.ErrMalformedSignal)
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return Input{}, fmt.Errorf("%w: %v", classify.ErrMalformedSignal, err)
	}
	return in, nil
}

// SignalType maps a hook event onto a signal type code. Events the relay does
// not care about return ErrIgnored.
func SignalType(in Input) (string, error) {
	switch in.HookEventName {
	case "Stop", "SubagentStop":
		return classify.SignalTaskCompleted, nil
	case "StopFailure":
		return classify.SignalError, nil
	case "Notification":
		switch in.NotificationType {
		case "idle_prompt", "permission_prompt", "elicitation_dialog":
			return classify.SignalInputNeeded, nil
		}
		return "", fmt.Errorf("%w: notification %q", ErrIgnored, in.NotificationType)
	case "PreToolUse", "PostToolUse", "UserPromptSubmit":
		return classify.SignalProgress, nil
	}
	return "", fmt.Errorf("%w: %q", ErrIgnored, in.HookEventName)
}

// Signal builds the relay signal for a hook event, reading the transcript
// for context. Notification text stands in when the transcript has nothing.
func Signal(in Input, now time.Time) (classify.Signal, error) {
	typ, err := SignalType(in)
	if err != nil {
		return classify.Signal{}, err
	}

	excerpt := ""
	if typ != classify.SignalProgress {
		excerpt = LastAssistantMessage(in.TranscriptPath)
	}
	if excerpt == "" {
		excerpt = in.Message
	}
	if excerpt == "" && in.ToolName != "" {
		excerpt = in.ToolName
	}

	return classify.Signal{
		SessionID:         in.SessionID,
		SignalType:        typ,
		TranscriptExcerpt: excerpt,
		OccurredAt:        now.UTC(),
		Cwd:               in.Cwd,
	}, nil
}

// SendFunc delivers a signal to the relay.
type SendFunc func(ctx context.Context, sig classify.Signal) error

// Forward reads one hook payload from r and sends the resulting signal
// within Timeout. Ignored events are not an error.
func Forward(ctx context.Context, r io.Reader, send SendFunc) error {
	in, err := ReadInput(r)
	if err != nil {
		return err
	}
	sig, err := Signal(in, time.Now())
	if errors.Is(err, ErrIgnored) {
		return nil
	}
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()
	if err := send(ctx, sig); err != nil {
		return fmt.Errorf("forward %s for session %s: %w", sig.SignalType, sig.SessionID, err)
	}
	return nil
}

type transcriptEntry struct {
	Type    string `json:"type"`
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// LastAssistantMessage returns the text of the newest assistant entry in a
// JSONL transcript, looking only at its last TranscriptTail bytes. Any
// failure yields "".
func LastAssistantMessage(path string) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := int64(0)
	if info.Size() > TranscriptTail {
		offset = info.Size() - TranscriptTail
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ""
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), TranscriptTail+1)
	var lines []string
	first := offset > 0
	for scanner.Scan() {
		if first {
			// Partial line from the seek.
			first = false
			continue
		}
		lines = append(lines, scanner.Text())
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var entry transcriptEntry
		if json.Unmarshal([]byte(line), &entry) != nil || entry.Type != "assistant" {
			continue
		}
		if text := extractText(entry.Message.Content); text != "" {
			return text
		}
	}
	return ""
}

// extractText handles content given as a plain string or as a list of typed
// blocks, of which only text blocks count.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []contentBlock
	if json.Unmarshal(raw, &blocks) != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
