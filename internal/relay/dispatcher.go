package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/line-relay/internal/line"
	"github.com/xaenox/line-relay/internal/metrics"
	"github.com/xaenox/line-relay/internal/models"
	"go.uber.org/zap"
)

var ErrDispatch = errors.New("reply dispatch failed")

// DispatchError reports a push that did not reach the platform. A timeout
// is reported the same way.
type DispatchError struct {
	UserID string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s for user %s: %v", ErrDispatch, e.UserID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }

// Dispatcher pushes operator replies with the staff member as sender.
type Dispatcher struct {
	client  line.Pusher
	timeout time.Duration
	logger  *zap.Logger
}

func NewDispatcher(client line.Pusher, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{client: client, timeout: timeout, logger: logger}
}

// Send validates req and pushes it. Failures are logged here and returned as
// *DispatchError; callers decide whether they matter.
func (d *Dispatcher) Send(ctx context.Context, req models.ReplyRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	req = req.Normalize()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.client.Push(ctx, line.PushRequest{
		To:   req.UserID,
		Text: req.ReplyMessage,
		Sender: &line.Sender{
			Name:    req.StaffName,
			IconURL: req.StaffIconURL,
		},
	})
	if err != nil {
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		d.logger.Error("Failed to push staff reply",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("staff_name", req.StaffName))
		return &DispatchError{UserID: req.UserID, Err: err}
	}

	metrics.DispatchTotal.WithLabelValues("sent").Inc()
	d.logger.Info("Staff reply pushed",
		zap.String("user_id", req.UserID),
		zap.String("staff_name", req.StaffName))
	return nil
}
