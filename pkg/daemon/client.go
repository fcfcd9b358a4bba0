package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/b/lessonmate/pkg/protocol"
)

// Client is a connection to the daemon socket used by the companion UI and
// lessonctl.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.Message
	inbound chan *protocol.Message
	done    chan struct{}
	err     error
}

// Dial connects to socketPath, retrying until ctx is done.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	delay := 100 * time.Millisecond
	for {
		conn, err := d.DialContext(ctx, "unix", socketPath)
		if err == nil {
			return newClient(conn), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %s: %w", socketPath, err)
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay *= 2
		}
	}
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan *protocol.Message),
		inbound: make(chan *protocol.Message, sendQueueSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		msg, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			continue
		}
		if msg.IsReply() {
			c.mu.Lock()
			ch, ok := c.pending[msg.ReplyTo]
			delete(c.pending, msg.ReplyTo)
			c.mu.Unlock()
			if ok {
				ch <- msg
				continue
			}
		}
		select {
		case c.inbound <- msg:
		default:
			// Nobody is draining; drop like the daemon does.
		}
	}
	c.mu.Lock()
	c.err = scanner.Err()
	if c.err == nil {
		c.err = ErrClosed
	}
	c.mu.Unlock()
	close(c.done)
	close(c.inbound)
}

// Messages returns pushed messages. The channel is closed on disconnect.
func (c *Client) Messages() <-chan *protocol.Message {
	return c.inbound
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send writes one message.
func (c *Client) Send(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Request sends msg with a fresh id and waits for the reply.
func (c *Client) Request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	msg.ID = uuid.NewString()
	ch := make(chan *protocol.Message, 1)
	c.mu.Lock()
	c.pending[msg.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.Send(msg); err != nil {
		return nil, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-c.done:
		return nil, fmt.Errorf("%s: %w", msg.Type, ErrClosed)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", msg.Type, ctx.Err())
	}
}

// Hello registers this connection as a page and returns its page id.
func (c *Client) Hello(ctx context.Context, page protocol.PageInfo) (string, error) {
	reply, err := c.Request(ctx, &protocol.Message{Type: protocol.MsgHello, Page: &page})
	if err != nil {
		return "", err
	}
	return reply.PageID, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
