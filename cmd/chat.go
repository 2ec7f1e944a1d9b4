package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/openswarm-dev/swarmgate/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var addr string
	var agentName string

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with an agent through a running gateway",
		Long:  "Sends a message to an agent and prints the streamed response. With no message argument, starts an interactive session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			return runChat(cmd.Context(), addr, agentName, message)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:18900", "gateway address")
	cmd.Flags().StringVar(&agentName, "agent", "", "agent name (required)")
	cmd.MarkFlagRequired("agent")
	return cmd
}

type wsFrame struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

func runChat(ctx context.Context, addr, agentName, message string) error {
	agentID, err := lookupAgentID(addr, agentName)
	if err != nil {
		return err
	}

	// The event feed carries the stream; the REST call returns the final
	// text after tool loops and delegations settle.
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		return fmt.Errorf("connect gateway: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	go printStream(streamCtx, conn, agentID)

	if message != "" {
		return sendChat(addr, agentID, message)
	}

	fmt.Fprintf(os.Stderr, "SwarmGate chat (agent: %s). Type \"exit\" to quit.\n\n", agentName)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}
		if err := sendChat(addr, agentID, input); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

// printStream echoes this agent's stream chunks to stdout as they arrive.
func printStream(ctx context.Context, conn *websocket.Conn, agentID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame wsFrame
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		if frame.Name != protocol.EventStreamChunk {
			continue
		}
		var payload struct {
			ID    string `json:"id"`
			Chunk string `json:"chunk"`
		}
		if json.Unmarshal(frame.Payload, &payload) != nil || payload.ID != agentID {
			continue
		}
		fmt.Print(payload.Chunk)
	}
}

func sendChat(addr, agentID, message string) error {
	body, _ := json.Marshal(map[string]string{"message": message})
	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Post(
		fmt.Sprintf("http://%s/v1/agents/%s/chat", addr, agentID),
		"application/json", bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("send chat: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return fmt.Errorf("%s", out.Error)
	}
	// The stream printer already wrote the text; just close the line.
	fmt.Println()
	return nil
}

func lookupAgentID(addr, name string) (string, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/v1/agents", addr))
	if err != nil {
		return "", fmt.Errorf("list agents: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Agents []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode agents: %w", err)
	}
	for _, a := range out.Agents {
		if strings.EqualFold(a.Name, name) {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("agent %q not found on gateway", name)
}
