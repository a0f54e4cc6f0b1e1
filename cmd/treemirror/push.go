package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/treemirror/chunk"
)

type pushOptions struct {
	url      string
	maxBytes int
	timeout  time.Duration
}

// pushReply mirrors the server's per-fragment answer.
type pushReply struct {
	Complete  bool            `json:"complete"`
	NextIndex int             `json:"nextIndex"`
	Count     int             `json:"count"`
	Applied   json.RawMessage `json:"applied,omitempty"`
	Error     string          `json:"error,omitempty"`
	Kind      string          `json:"kind,omitempty"`
}

func newPushCmd() *cobra.Command {
	opts := &pushOptions{}
	cmd := &cobra.Command{
		Use:   "push <payload.json>",
		Short: "Send a payload to a running mirror over its websocket feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			reply, err := push(opts, payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(reply.Applied))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "ws://localhost:8420/v1/ws", "mirror websocket URL")
	cmd.Flags().IntVar(&opts.maxBytes, "max-bytes", chunk.DefaultFragmentBytes, "maximum text bytes per fragment")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-fragment reply timeout")
	return cmd
}

// push splits payload and sends the fragments in order, stopping at the
// first refusal. It returns the reply to the final fragment.
func push(opts *pushOptions, payload []byte) (*pushReply, error) {
	frags, err := chunk.Split(payload, "", opts.maxBytes)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.Dial(opts.url, nil)
	if err != nil {
		return nil, fmt.Errorf("push: dial %s: %w", opts.url, err)
	}
	defer conn.Close()

	var reply pushReply
	for _, f := range frags {
		if err := conn.WriteJSON(f); err != nil {
			return nil, fmt.Errorf("push: send fragment %d: %w", f.Index, err)
		}
		conn.SetReadDeadline(time.Now().Add(opts.timeout))
		reply = pushReply{}
		if err := conn.ReadJSON(&reply); err != nil {
			return nil, fmt.Errorf("push: read reply %d: %w", f.Index, err)
		}
		if reply.Error != "" {
			return &reply, fmt.Errorf("push: fragment %d/%d refused (%s): %s", f.Index, f.Count, reply.Kind, reply.Error)
		}
	}
	if !reply.Complete {
		return &reply, errors.New("push: transfer did not complete")
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return &reply, nil
}
