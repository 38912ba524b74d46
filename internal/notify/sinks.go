package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oelp-platform/billing/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DBSink stores notifications in the notifications table.
type DBSink struct {
	db *gorm.DB
}

// NewDBSink builds a database sink.
func NewDBSink(conn *gorm.DB) *DBSink {
	return &DBSink{db: conn}
}

// Name returns "db".
func (s *DBSink) Name() string { return "db" }

// Deliver inserts the notification row.
func (s *DBSink) Deliver(ctx context.Context, n Notification) error {
	if s.db == nil {
		return errors.New("database not configured")
	}
	row := models.Notification{
		SubscriberID: n.SubscriberID,
		Kind:         n.Kind,
		Message:      n.Message,
		CreatedAt:    n.CreatedAt,
	}
	if len(n.Metadata) > 0 {
		raw, errMarshal := json.Marshal(n.Metadata)
		if errMarshal != nil {
			return fmt.Errorf("encode metadata: %w", errMarshal)
		}
		row.Metadata = datatypes.JSON(raw)
	}
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return fmt.Errorf("insert notification: %w", errCreate)
	}
	return nil
}

// Publisher is the subset of *nats.Conn the NATS sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes notifications as JSON to a subject.
type NATSSink struct {
	pub     Publisher
	subject string
	conn    *nats.Conn
}

// NewNATSSink wraps an existing publisher.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: strings.TrimSpace(subject)}
}

// DialNATS connects to url and returns a sink publishing to subject.
func DialNATS(url, subject string, timeout time.Duration) (*NATSSink, error) {
	conn, errConnect := nats.Connect(url,
		nats.Name("billing-notify"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("notify: nats disconnected")
			}
		}),
	)
	if errConnect != nil {
		return nil, fmt.Errorf("notify: connect nats: %w", errConnect)
	}
	sink := NewNATSSink(conn, subject)
	sink.conn = conn
	return sink, nil
}

// Name returns "nats".
func (s *NATSSink) Name() string { return "nats" }

// Deliver publishes n. The subject is suffixed with the notification kind.
func (s *NATSSink) Deliver(ctx context.Context, n Notification) error {
	if s.pub == nil {
		return errors.New("nats publisher not configured")
	}
	if errCtx := ctx.Err(); errCtx != nil {
		return errCtx
	}
	payload, errEncode := encode(n)
	if errEncode != nil {
		return fmt.Errorf("encode notification: %w", errEncode)
	}
	subject := s.subject
	if n.Kind != "" {
		subject = subject + "." + n.Kind
	}
	return s.pub.Publish(subject, payload)
}

// Close drains the underlying connection when the sink owns one.
func (s *NATSSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
