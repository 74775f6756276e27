package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/internal/config"
	"github.com/koval-yurko/emails-flow/pkg/otel"
)

// Client is a goroutine-safe IMAP client. One connection is shared and
// commands are serialized; a failed command drops the connection and the
// next call dials again.
type Client struct {
	cfg    config.IMAPConfig
	logger *zap.Logger

	mu       sync.Mutex
	conn     *imapclient.Client
	selected string
}

func NewClient(cfg config.IMAPConfig, logger *zap.Logger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// Search returns the UIDs of unseen messages in folder, optionally filtered
// by sender, in mailbox order.
func (c *Client) Search(ctx context.Context, folder, fromFilter string) (uids []uint32, err error) {
	ctx, span := c.span(ctx, "search", folder)
	defer func() { otel.EndSpan(span, err) }()

	err = c.withFolder(ctx, folder, func(conn *imapclient.Client) error {
		data, err := conn.UIDSearch(searchCriteria(fromFilter), nil).Wait()
		if err != nil {
			return fmt.Errorf("search %s: %w", folder, err)
		}
		for _, uid := range data.AllUIDs() {
			uids = append(uids, uint32(uid))
		}
		return nil
	})
	span.SetAttributes(attribute.Int("imap.found", len(uids)))
	return uids, err
}

// Fetch downloads one message without setting \Seen.
func (c *Client) Fetch(ctx context.Context, folder string, uid uint32) (msg *Message, err error) {
	ctx, span := c.span(ctx, "fetch", folder, attribute.Int64("imap.uid", int64(uid)))
	defer func() { otel.EndSpan(span, err) }()

	var raw []byte
	err = c.withFolder(ctx, folder, func(conn *imapclient.Client) error {
		section := &imapv2.FetchItemBodySection{Peek: true}
		opts := &imapv2.FetchOptions{
			UID:         true,
			BodySection: []*imapv2.FetchItemBodySection{section},
		}
		msgs, err := conn.Fetch(imapv2.UIDSetNum(imapv2.UID(uid)), opts).Collect()
		if err != nil {
			return fmt.Errorf("fetch uid %d: %w", uid, err)
		}
		if len(msgs) == 0 {
			return fmt.Errorf("%w: uid %d in %s", ErrMessageNotFound, uid, folder)
		}
		raw = msgs[0].FindBodySection(section)
		if raw == nil {
			return fmt.Errorf("%w: uid %d has no body", ErrMessageNotFound, uid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	msg, err = ParseMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("uid %d: %w", uid, err)
	}
	msg.UID = uid
	return msg, nil
}

func (c *Client) MarkSeen(ctx context.Context, folder string, uid uint32) error {
	return c.storeSeen(ctx, folder, uid, imapv2.StoreFlagsAdd)
}

func (c *Client) MarkUnseen(ctx context.Context, folder string, uid uint32) error {
	return c.storeSeen(ctx, folder, uid, imapv2.StoreFlagsDel)
}

func (c *Client) storeSeen(ctx context.Context, folder string, uid uint32, op imapv2.StoreFlagsOp) (err error) {
	name := "mark_seen"
	if op == imapv2.StoreFlagsDel {
		name = "mark_unseen"
	}
	ctx, span := c.span(ctx, name, folder, attribute.Int64("imap.uid", int64(uid)))
	defer func() { otel.EndSpan(span, err) }()

	return c.withFolder(ctx, folder, func(conn *imapclient.Client) error {
		flags := &imapv2.StoreFlags{Op: op, Silent: true, Flags: []imapv2.Flag{imapv2.FlagSeen}}
		if err := conn.Store(imapv2.UIDSetNum(imapv2.UID(uid)), flags, nil).Close(); err != nil {
			return fmt.Errorf("store flags uid %d: %w", uid, err)
		}
		return nil
	})
}

// Close logs out and closes the connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if err := c.conn.Logout().Wait(); err != nil {
		c.logger.Warn("IMAP logout failed", zap.Error(err))
	}
	err := c.conn.Close()
	c.conn = nil
	c.selected = ""
	return err
}

func (c *Client) span(ctx context.Context, operation, folder string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("imap.folder", folder))
	return otel.ClientSpan(ctx, "imap", operation, attrs...)
}

// withFolder runs fn on a connected client with folder selected. Context
// cancellation closes the connection to unblock the pending command.
func (c *Client) withFolder(ctx context.Context, folder string, fn func(*imapclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if c.conn == nil {
		conn, err := c.dial()
		if err != nil {
			return err
		}
		c.conn = conn
		c.selected = ""
	}
	conn := c.conn

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	err := c.selectFolder(conn, folder)
	if err == nil {
		err = fn(conn)
	}

	if !stop() {
		// AfterFunc fired: the connection is gone
		c.drop()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("imap: %w", ctxErr)
		}
	}
	if err != nil {
		c.logger.Warn("IMAP command failed, dropping connection", zap.String("folder", folder), zap.Error(err))
		c.drop()
	}
	return err
}

func (c *Client) selectFolder(conn *imapclient.Client, folder string) error {
	if c.selected == folder {
		return nil
	}
	if _, err := conn.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", folder, err)
	}
	c.selected = folder
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.selected = ""
}

func (c *Client) dial() (*imapclient.Client, error) {
	address := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	options := &imapclient.Options{}

	var (
		conn *imapclient.Client
		err  error
	)
	if c.cfg.TLS {
		options.TLSConfig = &tls.Config{
			ServerName:         c.cfg.Host,
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		}
		conn, err = imapclient.DialTLS(address, options)
	} else {
		conn, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := conn.Login(c.cfg.User, c.cfg.Password).Wait(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	c.logger.Debug("IMAP connection established",
		zap.String("address", address),
		zap.String("user", c.cfg.User),
		zap.Bool("tls", c.cfg.TLS),
	)
	return conn, nil
}

func searchCriteria(fromFilter string) *imapv2.SearchCriteria {
	criteria := &imapv2.SearchCriteria{
		NotFlag: []imapv2.Flag{imapv2.FlagSeen},
	}
	if fromFilter != "" {
		criteria.Header = []imapv2.SearchCriteriaHeaderField{{Key: "From", Value: fromFilter}}
	}
	return criteria
}
