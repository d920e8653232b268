// Command heinzel-chat is a thin terminal client for a running gateway: it
// POSTs to /chat or /chat/stream and renders the response, with a small set
// of client-local "/"-prefixed commands distinct from the gateway's own
// "!"-prefixed in-band provider commands.
//
// Grounded on the teacher's examples/cli-chat/main.go REPL loop, generalized
// from a direct in-process model call to an HTTP client against this
// module's own gateway surface.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cuber-it/heinzel-gateway/pkg/canon"
	"github.com/cuber-it/heinzel-gateway/pkg/providerutils/streaming"
)

type cliState struct {
	url      string
	stream   bool
	system   string
	messages []canon.ChatMessage
	client   *http.Client
}

func main() {
	url := flag.String("url", "http://localhost:8080", "gateway base URL")
	stream := flag.Bool("stream", true, "use /chat/stream instead of /chat")
	system := flag.String("system", "", "system prompt")
	flag.Parse()

	s := &cliState{
		url:    strings.TrimRight(*url, "/"),
		stream: *stream,
		system: *system,
		client: &http.Client{Timeout: 120 * time.Second},
	}

	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║   H.E.I.N.Z.E.L. Gateway - Chat CLI     ║")
	fmt.Println("╚════════════════════════════════════════╝")
	fmt.Println()
	printHelp()

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("\n\033[1;32mYou:\033[0m ")
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Printf("error reading input: %v", err)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if s.handleLocalCommand(line) {
				break
			}
			continue
		}

		s.messages = append(s.messages, canon.ChatMessage{Role: "user", Content: canon.TextContent(line)})
		if s.stream {
			s.sendStream()
		} else {
			s.sendOnce()
		}
	}
}

func printHelp() {
	fmt.Println("Local commands:")
	fmt.Println("  /exit, /quit   - exit the client")
	fmt.Println("  /clear         - clear conversation history")
	fmt.Println("  /stream        - toggle streaming on/off")
	fmt.Println("  /log on|off    - toggle upstream dialog logging")
	fmt.Println("  /system <text> - set the system prompt")
	fmt.Println("  /info          - show current client settings")
	fmt.Println("  /health        - check the gateway's /health endpoint")
	fmt.Println("  /help          - show this help message")
	fmt.Println()
	fmt.Println("Anything else, including a \"!\"-prefixed line, is sent to the gateway;")
	fmt.Println("\"!\" commands are handled server-side, not by this client.")
}

func (s *cliState) handleLocalCommand(line string) (exit bool) {
	fields := strings.SplitN(line, " ", 2)
	cmd := fields[0]
	arg := ""
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}

	switch cmd {
	case "/exit", "/quit":
		fmt.Println("\nGoodbye!")
		return true
	case "/clear":
		s.messages = nil
		fmt.Println("\n✓ conversation history cleared")
	case "/stream":
		s.stream = !s.stream
		fmt.Printf("\nstreaming: %v\n", s.stream)
	case "/log":
		s.handleLog(arg)
	case "/system":
		s.system = arg
		fmt.Printf("\nsystem prompt set (%d chars)\n", len(arg))
	case "/info":
		fmt.Printf("\nurl=%s stream=%v system=%q messages=%d\n", s.url, s.stream, s.system, len(s.messages))
	case "/health":
		s.checkHealth()
	case "/help":
		printHelp()
	default:
		fmt.Printf("\nunknown local command: %s (use /help)\n", cmd)
	}
	return false
}

func (s *cliState) handleLog(arg string) {
	var endpoint string
	switch arg {
	case "on":
		endpoint = "/logging/enable"
	case "off":
		endpoint = "/logging/disable"
	default:
		fmt.Println("\nusage: /log on|off")
		return
	}
	resp, err := s.client.Post(s.url+endpoint, "application/json", bytes.NewReader(nil))
	if err != nil {
		fmt.Printf("\nerror: %v\n", err)
		return
	}
	defer resp.Body.Close()
	fmt.Printf("\ndialog logging: %s\n", arg)
}

func (s *cliState) checkHealth() {
	resp, err := s.client.Get(s.url + "/health")
	if err != nil {
		fmt.Printf("\nerror: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("\n%s\n", string(body))
}

func (s *cliState) buildRequest() canon.ChatRequest {
	return canon.ChatRequest{
		Messages: s.messages,
		System:   s.system,
	}
}

func (s *cliState) sendOnce() {
	body, _ := json.Marshal(s.buildRequest())
	resp, err := s.client.Post(s.url+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("error: %v", err)
		s.popLastMessage()
		return
	}
	defer resp.Body.Close()

	var out canon.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Printf("error decoding response: %v", err)
		s.popLastMessage()
		return
	}
	fmt.Printf("\n\033[1;34mAssistant:\033[0m %s\n", out.Content)
	fmt.Printf("\033[2m(tokens: in=%d out=%d)\033[0m\n", out.Usage.InputTokens, out.Usage.OutputTokens)
	s.messages = append(s.messages, canon.ChatMessage{Role: "assistant", Content: canon.TextContent(out.Content)})
}

func (s *cliState) sendStream() {
	body, _ := json.Marshal(s.buildRequest())
	resp, err := s.client.Post(s.url+"/chat/stream", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("error: %v", err)
		s.popLastMessage()
		return
	}
	defer resp.Body.Close()

	fmt.Print("\n\033[1;34mAssistant:\033[0m ")
	parser := streaming.NewSSEParser(resp.Body)
	var full strings.Builder
	var usage canon.Usage
	for {
		ev, err := parser.Next()
		if err != nil {
			break
		}
		if ev.Data == "" || streaming.IsStreamDone(ev) {
			break
		}
		var chunk canon.StreamChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue
		}
		switch chunk.Type {
		case canon.ChunkContentDelta:
			fmt.Print(chunk.Content)
			full.WriteString(chunk.Content)
		case canon.ChunkUsage:
			if chunk.Usage != nil {
				usage = usage.Reduce(*chunk.Usage)
			}
		case canon.ChunkError:
			fmt.Printf("\n[error: %s]\n", chunk.Error)
		case canon.ChunkCommandResponse:
			resultJSON, _ := json.Marshal(chunk.Result)
			fmt.Printf("\n[%s] %s\n", chunk.Command, string(resultJSON))
		}
	}
	fmt.Println()
	fmt.Printf("\033[2m(tokens: in=%d out=%d)\033[0m\n", usage.InputTokens, usage.OutputTokens)
	s.messages = append(s.messages, canon.ChatMessage{Role: "assistant", Content: canon.TextContent(full.String())})
}

func (s *cliState) popLastMessage() {
	if len(s.messages) > 0 {
		s.messages = s.messages[:len(s.messages)-1]
	}
}
