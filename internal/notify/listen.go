package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// reregister keeps the listener known after a server restart.
const reregister = 30 * time.Second

// Listen registers with the server at addr and calls fn for every
// reminder until ctx is done.
func Listen(ctx context.Context, addr, id string, fn func(ReminderMessage)) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	hello, err := json.Marshal(RegisterMessage{Type: RegisterMessageType, ListenerID: id})
	if err != nil {
		return err
	}
	if _, err := conn.Write(hello); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	go func() {
		t := time.NewTicker(reregister)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-t.C:
				_, _ = conn.Write(hello)
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// refused reads while the server is down
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
				continue
			}
		}
		var msg ReminderMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil || msg.Type != ReminderMessageType {
			continue
		}
		fn(msg)
	}
}
